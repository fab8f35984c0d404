package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderEmptyEndpoint(t *testing.T) {
	p, err := NewProvider(context.Background(), "  ", "triage", false)
	require.NoError(t, err)
	require.NotNil(t, p.TracerProvider)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderWithEndpoint(t *testing.T) {
	// The exporter dials lazily, so no collector is needed.
	p, err := NewProvider(context.Background(), "localhost:4317", "triage", true)
	require.NoError(t, err)
	require.NotNil(t, p.TracerProvider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}

func TestGRPCTarget(t *testing.T) {
	tests := []struct {
		endpoint     string
		wantTarget   string
		wantInsecure bool
		wantErr      bool
	}{
		{"localhost:4317", "localhost:4317", true, false},
		{"http://collector:4317/v1/traces", "collector:4317", true, false},
		{"https://collector:4317", "collector:4317", false, false},
		{"http://", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			target, insecure, err := grpcTarget(tt.endpoint)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTarget, target)
			assert.Equal(t, tt.wantInsecure, insecure)
		})
	}
}

func TestTracer(t *testing.T) {
	_, span := Tracer().Start(context.Background(), "test")
	span.End()
}
