package principals

import (
	"context"
	"errors"
)

// ErrUnavailable indica que el directorio no respondió (retryable).
var ErrUnavailable = errors.New("principal directory unavailable")

// Directory responde si un principal (paciente o proveedor) existe.
// Se usa sólo para validar ownerId/granteeId en operaciones de escritura.
type Directory interface {
	Exists(ctx context.Context, principalID string) (bool, error)
}
