package lattice_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-io/hostrt/internal/lattice"
)

type fakeHost struct {
	hostKey       string
	latticePrefix string
}

func (f fakeHost) HostKey() string       { return f.hostKey }
func (f fakeHost) LatticePrefix() string { return f.latticePrefix }

func TestTopics(t *testing.T) {
	assert.Equal(t, "wasmbus.evt.default", lattice.Topic("default"))
	assert.Equal(t, "wasmbus.rpc.default.Vxxx.default.health", lattice.HealthSubject("default", "Vxxx", "default"))
	assert.Equal(t, "wasmbus.cfg.default", lattice.ConfigSubject("default"))
}

func TestEncoderProducesCloudEventsEnvelope(t *testing.T) {
	enc := lattice.NewEncoder(fakeHost{hostKey: "Hxxx", latticePrefix: "default"})

	body, err := enc.Encode(lattice.KindProviderStarted, map[string]any{"public_key": "Vxxx"})
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(body, &envelope))

	assert.Equal(t, "1.0", envelope["specversion"])
	assert.Equal(t, "Hxxx", envelope["source"])
	assert.Equal(t, "com.wasmcloud.lattice.provider_started", envelope["type"])
	assert.Equal(t, "application/json", envelope["datacontenttype"])
	assert.NotEmpty(t, envelope["id"])
	assert.NotEmpty(t, envelope["time"])

	data, ok := envelope["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Vxxx", data["public_key"])
}

func TestEncodeCorrelatedSetsExtension(t *testing.T) {
	enc := lattice.NewEncoder(fakeHost{hostKey: "Hxxx", latticePrefix: "default"})

	body, err := enc.EncodeCorrelated(lattice.KindHealthCheckPassed, map[string]any{}, "corr-123")
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(body, &envelope))
	assert.Equal(t, "corr-123", envelope["correlationid"])
}
