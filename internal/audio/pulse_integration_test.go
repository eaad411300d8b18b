//go:build integration

package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Needs a reachable PulseAudio server; run with -tags integration.
func integrationContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEnumerationIntegration(t *testing.T) {
	ctx := integrationContext(t)

	devices, err := ListDevices(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, devices)

	for _, device := range devices {
		require.NotEmpty(t, device.ID)
	}
}

func TestDefaultSinkExposesMonitorIntegration(t *testing.T) {
	ctx := integrationContext(t)

	sink, err := DefaultSinkName(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, sink)

	devices, err := ListDevices(ctx)
	require.NoError(t, err)

	monitor, ok := monitorForSink(devices, sink)
	require.True(t, ok, "default sink should expose a monitor source")
	require.True(t, monitor.Monitor)
}
