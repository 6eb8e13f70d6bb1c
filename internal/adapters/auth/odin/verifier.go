package odin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"health-access-ledger/internal/ports/auth"
	"health-access-ledger/internal/ports/principals"
)

var (
	ErrTokenEmpty = errors.New("token is empty")
)

// Verifier implementa auth.AuthVerifier usando Odin.
type Verifier struct {
	client *Client
}

func NewVerifier(client *Client) *Verifier {
	return &Verifier{client: client}
}

func (v *Verifier) Verify(ctx context.Context, token string) (auth.Claims, error) {
	if v == nil || v.client == nil {
		return auth.Claims{}, ErrOdinNotConfigured
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return auth.Claims{}, ErrTokenEmpty
	}

	claims, err := v.client.VerifyToken(ctx, token)
	if err != nil {
		// El middleware decide si corta o no.
		return auth.Claims{}, fmt.Errorf("odin verify failed: %w", err)
	}
	return claims, nil
}

// Directory implementa principals.Directory contra Odin.
type Directory struct {
	client *Client
}

func NewDirectory(client *Client) *Directory {
	return &Directory{client: client}
}

func (d *Directory) Exists(ctx context.Context, principalID string) (bool, error) {
	if d == nil || d.client == nil {
		return false, principals.ErrUnavailable
	}
	ok, err := d.client.PrincipalExists(ctx, principalID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", principals.ErrUnavailable, err)
	}
	return ok, nil
}
