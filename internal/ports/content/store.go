package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	// ErrStoreUnavailable es retryable: el backend no respondió.
	ErrStoreUnavailable = errors.New("content store unavailable")
	ErrNotFound         = errors.New("content not found")
	ErrInvalidID        = errors.New("invalid content id")
)

// Store es un blob store direccionado por contenido (IPFS, S3, memoria).
// Put devuelve un content id opaco; el core nunca lo interpreta.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, contentID string) ([]byte, error)
}

const idPrefix = "sha256-"

// IDFor calcula el content id de los bytes almacenados.
func IDFor(data []byte) string {
	sum := sha256.Sum256(data)
	return idPrefix + hex.EncodeToString(sum[:])
}

// ValidID valida el formato que producen los adapters de este repo.
func ValidID(id string) bool {
	if !strings.HasPrefix(id, idPrefix) {
		return false
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(id, idPrefix))
	return err == nil && len(raw) == sha256.Size
}
