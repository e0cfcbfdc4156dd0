// Package upload guards image uploads before they reach the pipeline.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/h2non/filetype"
)

const (
	DefaultMaxBytes = 10 << 20
	chunkSize       = 1 << 20
)

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmpty           = errors.New("empty upload")
)

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Allowed reports whether a MIME type may be classified.
func Allowed(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return allowedTypes[strings.ToLower(mt)]
}

// Guard enforces the size and type limits of one upload.
type Guard struct {
	MaxBytes int64
}

func NewGuard(maxBytes int64) *Guard {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Guard{MaxBytes: maxBytes}
}

// Accept reads r and returns the bytes only if the whole upload fits the
// limits. On any failure, including ctx being cancelled mid-read, the partial
// buffer is discarded.
func (g *Guard) Accept(ctx context.Context, declared string, r io.Reader) ([]byte, error) {
	if declared = strings.TrimSpace(declared); declared != "" && !isGeneric(declared) && !Allowed(declared) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, declared)
	}

	data, err := ReadLimited(ctx, r, g.MaxBytes)
	if err != nil {
		return nil, err
	}

	if declared == "" || isGeneric(declared) {
		if err := checkSniffed(data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func isGeneric(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/octet-stream"
}

func checkSniffed(data []byte) error {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return fmt.Errorf("%w: unrecognised content", ErrUnsupportedType)
	}
	if !allowedTypes[kind.MIME.Value] {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, kind.MIME.Value)
	}
	return nil
}

// ReadLimited reads r in chunks and fails as soon as more than limit bytes arrive.
func ReadLimited(ctx context.Context, r io.Reader, limit int64) ([]byte, error) {
	var (
		data  []byte
		chunk = make([]byte, chunkSize)
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := r.Read(chunk)
		if n > 0 {
			if int64(len(data)+n) > limit {
				return nil, fmt.Errorf("%w: maximum size is %d bytes", ErrTooLarge, limit)
			}
			data = append(data, chunk[:n]...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}
