package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"heatbot/internal/config"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	tel, err := Setup(context.Background(), config.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, tel.Enabled())
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestSetupWithEndpoint(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Telemetry.OTLPEndpoint = "http://127.0.0.1:4318"

	tel, err := Setup(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.True(t, tel.Enabled())
	require.NotNil(t, tel.MeterProvider)

	// Nothing listens on the port; shutdown must still return once the context ends.
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_ = tel.Shutdown(ctx)
}
