package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, InfoLevel, ParseLogLevel("INFO"))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("verbose"))
}

func TestLoggerEmitsJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(InfoLevel, &buf)

	log.WithField("plugin", "catalog").WithError(errors.New("boom")).Info("event dropped")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "event dropped", line["msg"])
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "catalog", line["plugin"])
	assert.Equal(t, "boom", line["error"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(WarnLevel, &buf)

	log.Debugf("queued %d events", 5)
	log.Info("flushed")
	assert.Zero(t, buf.Len())

	log.Warnf("retry %d/%d", 1, 3)
	assert.Contains(t, buf.String(), "retry 1/3")
}

func TestWithErrorNil(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(InfoLevel, &buf)
	log.WithError(nil).Info("ok")
	assert.NotContains(t, buf.String(), "error")
}
