package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusReadings(t *testing.T) {
	status, err := parseStatus(`{"temperature": 24.5, "humidity": 60, "firmware": "1.2.0"}`)
	require.NoError(t, err)
	assert.True(t, status.Online)
	assert.Nil(t, status.State)
	assert.Equal(t, map[string]float64{"temperature": 24.5, "humidity": 60}, status.Readings)
}

func TestParseStatusState(t *testing.T) {
	for raw, want := range map[string]bool{
		`{"state": true}`:  true,
		`{"state": false}`: false,
		`{"on": true}`:     true,
		`{"state": "on"}`:  true,
		`{"state": "OFF"}`: false,
		`{"state": "1"}`:   true,
	} {
		status, err := parseStatus(raw)
		require.NoError(t, err, raw)
		require.NotNil(t, status.State, raw)
		assert.Equal(t, want, *status.State, raw)
	}
}

func TestParseStatusBadPayload(t *testing.T) {
	_, err := parseStatus(`not json`)
	assert.Error(t, err)
}

func TestParseDeviceID(t *testing.T) {
	assert.Equal(t, "pump-1", parseDeviceID("devices/pump-1/status"))
	assert.Empty(t, parseDeviceID("garbage"))
}

func TestStatusKey(t *testing.T) {
	assert.Equal(t, "device:pump-1", statusKey("pump-1"))
}
