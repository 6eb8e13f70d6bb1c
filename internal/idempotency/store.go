// Package idempotency guarda respuestas por Idempotency-Key para que un
// reintento de POST /records no cree un segundo Record.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

const DefaultTTL = 24 * time.Hour

// PendingTTL acota cuánto vive una reserva si el request que la tomó muere
// sin guardar ni liberar.
const PendingTTL = time.Minute

// ErrExists: otro request ya guardó una respuesta con ese key.
var ErrExists = errors.New("idempotency key already stored")

// Response es lo que se reproduce en un replay.
type Response struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
	// Pending marca una reserva: el primer request sigue en curso.
	Pending bool `json:"pending,omitempty"`
}

type Store interface {
	// Get devuelve la respuesta guardada o la reserva pendiente (Pending).
	Get(ctx context.Context, key string) (Response, bool, error)
	// Reserve toma el key con una marca pendiente. false si ya había algo.
	Reserve(ctx context.Context, key, fingerprint string) (bool, error)
	// Put reemplaza la reserva por la respuesta final. ErrExists si ya había
	// una respuesta final guardada.
	Put(ctx context.Context, key string, resp Response) error
	// Release borra la reserva pendiente; una respuesta final no se toca.
	Release(ctx context.Context, key string) error
}

// Key aísla los keys por principal.
func Key(principalID, raw string) string {
	return "idem:" + principalID + ":" + raw
}

// Fingerprint identifica el request original (método, path y body).
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
