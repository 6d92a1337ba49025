package store

import (
	"context"
	"encoding/json"
	"time"

	"accountd/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AuditStore struct{ db *gorm.DB }

func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.DB} }

// Record appends an audit entry. meta is marshalled to JSON; nil is stored as {}.
func (a *AuditStore) Record(ctx context.Context, accountID *domain.AccountID, action string, meta any, ip, ua string) error {
	raw := []byte("{}")
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		raw = b
	}
	entry := &domain.AuditEntry{
		ID:        uuid.New(),
		AccountID: accountID,
		Action:    action,
		Metadata:  datatypes.JSON(raw),
		IP:        ip,
		UserAgent: ua,
		CreatedAt: time.Now().UTC(),
	}
	return a.db.WithContext(ctx).Create(entry).Error
}

func (a *AuditStore) ListForAccount(ctx context.Context, accountID domain.AccountID) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	err := a.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
