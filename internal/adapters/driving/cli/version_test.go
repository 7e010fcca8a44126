package cli

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmd_Executes(t *testing.T) {
	original := version
	SetVersion("1.2.3")
	defer func() { version = original }()

	out, err := execute(t, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "cashsync version 1.2.3")
	assert.Contains(t, out, runtime.Version())
}

func TestVersionCmd_Short(t *testing.T) {
	original := version
	version = "dev"
	defer func() { version = original }()

	out, err := execute(t, "version", "--short")

	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestVersionCmd_RejectsArgs(t *testing.T) {
	_, err := execute(t, "version", "extra")
	assert.Error(t, err)
}

func TestSetServices(t *testing.T) {
	oldSync, oldForecast := syncService, forecastService
	defer func() { syncService, forecastService = oldSync, oldForecast }()

	s := &mockSyncService{}
	f := &mockForecastService{}
	SetServices(Services{Sync: s, Forecast: f})

	assert.Same(t, s, syncService)
	assert.Same(t, f, forecastService)
}
