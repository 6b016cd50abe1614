package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clickEvent() RawEvent {
	return RawEvent{
		Action: "click",
		Value:  float64(42),
		Context: map[string]interface{}{
			"userName":  "u1",
			"pluginId":  "p1",
			"timestamp": "2025-03-02T16:25:32.819Z",
		},
	}
}

func TestNormalizeJSONCapable(t *testing.T) {
	e := Normalize(clickEvent(), true)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "u1", e.UserRef)
	assert.Equal(t, "p1", e.PluginID)
	assert.Equal(t, "click", e.Action)
	assert.Equal(t, float64(42), e.Value)

	expected, err := time.Parse(time.RFC3339, "2025-03-02T16:25:32.819Z")
	require.NoError(t, err)
	assert.True(t, e.CreatedAt.Equal(expected))

	ctx, ok := e.Context.(map[string]interface{})
	require.True(t, ok, "context should stay a structured map")
	assert.Equal(t, "u1", ctx["userName"])

	attrs, ok := e.Attributes.(map[string]interface{})
	require.True(t, ok, "attributes should default to an empty map")
	assert.Empty(t, attrs)
}

func TestNormalizeStringified(t *testing.T) {
	e := Normalize(clickEvent(), false)

	ctxStr, ok := e.Context.(string)
	require.True(t, ok, "context should be serialized")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(ctxStr), &decoded))
	assert.Equal(t, "u1", decoded["userName"])

	assert.Equal(t, "{}", e.Attributes)
}

func TestNormalizeDefaultsTimestampToArrival(t *testing.T) {
	raw := clickEvent()
	delete(raw.Context, "timestamp")

	before := time.Now().UTC()
	e := Normalize(raw, true)
	after := time.Now().UTC()

	assert.False(t, e.CreatedAt.Before(before))
	assert.False(t, e.CreatedAt.After(after))
}

func TestNormalizeUnparseableTimestamp(t *testing.T) {
	raw := clickEvent()
	raw.Context["timestamp"] = "not-a-timestamp"

	e := Normalize(raw, true)
	assert.WithinDuration(t, time.Now().UTC(), e.CreatedAt, time.Minute)
}

func TestIdentityFallsBackToUserID(t *testing.T) {
	raw := RawEvent{
		Action:  "click",
		Context: map[string]interface{}{"userId": "id-7", "pluginId": "p1"},
	}
	assert.Equal(t, "id-7", raw.Identity())

	raw.Context["userName"] = "u2"
	assert.Equal(t, "u2", raw.Identity())
}

func TestIdentityAnonymous(t *testing.T) {
	assert.Empty(t, RawEvent{Action: "click"}.Identity())
	assert.Empty(t, RawEvent{Context: map[string]interface{}{"pluginId": "p1"}}.Identity())
}

func TestNormalizeGeneratesUniqueIDs(t *testing.T) {
	a := Normalize(clickEvent(), true)
	b := Normalize(clickEvent(), true)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestCanonicalRecordExcludesID(t *testing.T) {
	e := Normalize(clickEvent(), true)

	serialized, err := e.Serialize()
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(serialized), &fields))

	assert.NotContains(t, fields, "id")
	assert.Equal(t, "u1", fields["user_ref"])
	assert.Equal(t, "p1", fields["plugin_id"])
	assert.Equal(t, "click", fields["action"])
	assert.Equal(t, float64(42), fields["value"])
}
