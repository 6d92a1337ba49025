package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"time"

	"accountd/internal/domain"
	"accountd/internal/observability/metrics"
	"accountd/internal/observability/middleware"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const ThumbnailContentType = "image/jpeg"

type Config struct {
	MaxBytes      int64 // checked before anything is decoded
	MaxPixels     int   // width*height from the header
	ThumbnailSize int   // bounding box edge, e.g. 100
	JPEGQuality   int
}

func DefaultConfig() Config {
	return Config{
		MaxBytes:      5 << 20,
		MaxPixels:     40_000_000,
		ThumbnailSize: 100,
		JPEGQuality:   85,
	}
}

// DecodeFunc decodes a full bitmap; image.Decode by default.
type DecodeFunc func(r io.Reader) (image.Image, string, error)

// Pipeline validates uploads, derives a JPEG thumbnail and returns an Image
// ready to persist. It never touches the store.
type Pipeline struct {
	cfg    Config
	decode DecodeFunc
	log    *zap.Logger
	now    func() time.Time
}

func NewPipeline(cfg Config, log *zap.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = def.MaxPixels
	}
	if cfg.ThumbnailSize <= 0 {
		cfg.ThumbnailSize = def.ThumbnailSize
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		cfg:    cfg,
		decode: image.Decode,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *Pipeline) WithDecoder(fn DecodeFunc) *Pipeline {
	p.decode = fn
	return p
}

func (p *Pipeline) Ingest(ctx context.Context, accountID domain.AccountID, raw []byte, declaredContentType string) (*domain.Image, error) {
	result := "failure"
	defer func() {
		metrics.ImagesIngestedTotal.WithLabelValues(result).Inc()
	}()

	if int64(len(raw)) > p.cfg.MaxBytes {
		return nil, domain.ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Sniff the header; the declared type is advisory only.
	hdr, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, domain.ErrUnsupportedFormat
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrDecodeFailure, err)
	}
	if hdr.Width <= 0 || hdr.Height <= 0 {
		return nil, domain.ErrDecodeFailure
	}
	if hdr.Width*hdr.Height > p.cfg.MaxPixels {
		return nil, domain.ErrTooLarge
	}
	sniffed := "image/" + format
	if declaredContentType != "" && declaredContentType != sniffed {
		p.log.Debug("declared content type differs from sniffed format",
			append(middleware.Fields(ctx), zap.String("declared", declaredContentType), zap.String("sniffed", sniffed))...)
	}

	img, _, err := p.decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecodeFailure, err)
	}

	thumb := imaging.Fit(img, p.cfg.ThumbnailSize, p.cfg.ThumbnailSize, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(p.cfg.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}

	result = "success"
	return &domain.Image{
		ID:                   uuid.New(),
		AccountID:            accountID,
		OriginalBytes:        append([]byte(nil), raw...),
		ThumbnailBytes:       buf.Bytes(),
		ContentType:          sniffed,
		ThumbnailContentType: ThumbnailContentType,
		Width:                hdr.Width,
		Height:               hdr.Height,
		CreatedAt:            p.now(),
	}, nil
}
