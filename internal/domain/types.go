package domain

import "github.com/google/uuid"

type AccountID = uuid.UUID
type ImageID = uuid.UUID
type AuditID = uuid.UUID
