package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	log, err := New("debug", "JSON")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithField("room", "AB3K7P").Info("room created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "AB3K7P", line["room"])
	assert.Equal(t, "room created", line["msg"])
}

func TestNewText(t *testing.T) {
	log, err := New("warn", "")
	require.NoError(t, err)
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)
	assert.False(t, log.IsLevelEnabled(logrus.InfoLevel))
}

func TestNewRejectsUnknownValues(t *testing.T) {
	_, err := New("loud", "text")
	assert.Error(t, err)
	_, err = New("info", "xml")
	assert.Error(t, err)
}
