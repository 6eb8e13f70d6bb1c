package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewProvider(ctx, Config{Enabled: true}, nil)
	assert.Error(t, err)

	_, err = NewProvider(ctx, Config{Enabled: true, ServiceName: "ledger", SampleRate: 1.5}, nil)
	assert.Error(t, err)

	_, err = NewProvider(ctx, Config{Enabled: true, ServiceName: "ledger", SampleRate: 1, Exporter: "zipkin"}, nil)
	assert.Error(t, err)
}

func TestNewProvider_HTTPExporter(t *testing.T) {
	// El exporter HTTP no conecta hasta el primer export.
	p, err := NewProvider(context.Background(), Config{
		Enabled:     true,
		ServiceName: "ledger",
		Endpoint:    "localhost:4318",
		SampleRate:  0.5,
		Insecure:    true,
	}, nil)
	require.NoError(t, err)
	assert.True(t, p.Enabled())
	_ = p.Shutdown(context.Background())
}
