package auth

import "context"

// AuthVerifier valida un bearer token (JWT local u Odin) y devuelve el
// principal. Un error significa token inválido o proveedor caído.
type AuthVerifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}
