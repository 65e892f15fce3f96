package scheduler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSignal(t *testing.T) {
	payload, err := json.Marshal(map[string]string{"job_id": "abc-123"})
	require.NoError(t, err)

	member, err := encodeSignal("job.archive", payload)
	require.NoError(t, err)

	sig, err := decodeSignal(member)
	require.NoError(t, err)

	assert.Equal(t, "job.archive", sig.RoutingKey)
	assert.JSONEq(t, string(payload), string(sig.Payload))
	assert.NotEmpty(t, sig.ID)
}

func TestEncodeSignalUniqueIDs(t *testing.T) {
	a, err := encodeSignal("job.thaw", []byte(`{}`))
	require.NoError(t, err)
	b, err := encodeSignal("job.thaw", []byte(`{}`))
	require.NoError(t, err)

	// Identical payloads must still be distinct sorted-set members, or
	// two scheduled signals would collapse into one.
	assert.NotEqual(t, a, b)
}

func TestDecodeSignalErrors(t *testing.T) {
	tests := []struct {
		name   string
		member string
	}{
		{name: "not json", member: "not-json"},
		{name: "missing routing key", member: `{"id":"x","payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeSignal(tt.member)
			require.Error(t, err)
		})
	}
}
