// Package sealed cifra el contenido con AES-256-GCM antes de delegarlo a
// otro content store. Lo almacenado es un sobre CBOR {v, alg, nonce, ct};
// el content id es el hash del sobre.
package sealed

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"health-access-ledger/internal/ports/content"

	"github.com/fxamacker/cbor/v2"
)

const (
	envelopeVersion = 1
	algAES256GCM    = "A256GCM"
)

// ErrCorrupt: el sobre no se pudo decodificar o autenticar.
var ErrCorrupt = errors.New("sealed content corrupt or key mismatch")

type envelope struct {
	V     int    `cbor:"v"`
	Alg   string `cbor:"alg"`
	Nonce []byte `cbor:"nonce"`
	CT    []byte `cbor:"ct"`
}

type Store struct {
	inner content.Store
	aead  cipher.AEAD
	enc   cbor.EncMode
}

// ParseKey acepta la clave en hex (64 caracteres).
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("sealed: key must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("sealed: key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func New(inner content.Store, key []byte) (*Store, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("sealed: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealed: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealed: create GCM: %w", err)
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return &Store{inner: inner, aead: aead, enc: enc}, nil
}

func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("sealed: generate nonce: %w", err)
	}

	env := envelope{
		V:     envelopeVersion,
		Alg:   algAES256GCM,
		Nonce: nonce,
		CT:    s.aead.Seal(nil, nonce, data, []byte(algAES256GCM)),
	}
	raw, err := s.enc.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("sealed: encode envelope: %w", err)
	}
	return s.inner.Put(ctx, raw)
}

func (s *Store) Get(ctx context.Context, contentID string) ([]byte, error) {
	raw, err := s.inner.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if env.V != envelopeVersion || env.Alg != algAES256GCM || len(env.Nonce) != s.aead.NonceSize() {
		return nil, ErrCorrupt
	}

	plain, err := s.aead.Open(nil, env.Nonce, env.CT, []byte(env.Alg))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return plain, nil
}
