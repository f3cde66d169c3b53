package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWrite_RejectsUnknownTopLevelField(t *testing.T) {
	payload := `{"source":"auth","message":"login","bogus":1}`
	_, err := ParseWrite([]byte(payload))
	require.Error(t, err)
}

func TestParseWrite_AcceptsUnknownMetadataKeys(t *testing.T) {
	payload := `{"source":"auth","message":"login","metadata":{"anything":"goes","nested":{"a":1}}}`
	r, err := ParseWrite([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "goes", r.Metadata["anything"])
}

func TestParseWrite_RequiresSourceAndMessage(t *testing.T) {
	_, err := ParseWrite([]byte(`{"message":"x"}`))
	require.Error(t, err)
	_, err = ParseWrite([]byte(`{"source":"x"}`))
	require.Error(t, err)
}

func TestLevel_RoundTrip(t *testing.T) {
	for _, name := range []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"} {
		lvl, err := ParseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, name, lvl.String())
	}
	_, err := ParseLevel("BOGUS")
	require.Error(t, err)
}

func TestLevel_Ordering(t *testing.T) {
	assert.True(t, LevelError.AtLeast(LevelWarn))
	assert.False(t, LevelInfo.AtLeast(LevelWarn))
	assert.True(t, LevelFatal > LevelError)
}

func TestMarshalTimestamp_MillisecondPrecision(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 123456789, time.UTC)
	got := MarshalTimestamp(ts)
	assert.Equal(t, "2026-01-02T03:04:05.123Z", got)
}

func TestAttrs_CloneIsDeep(t *testing.T) {
	src := Attrs{"nested": map[string]any{"k": "v"}}
	clone := src.Clone()
	clone["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", src["nested"].(map[string]any)["k"])
}
