package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"loanops/internal/config"
)

func TestJSONFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.Equal(t, logrus.WarnLevel, l.GetLevel())

	l.Info("dropped")
	require.Zero(t, buf.Len())

	l.WithField("subordinate_id", "u1").Warn("cycle rejected")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "cycle rejected", line["msg"])
	require.Equal(t, "u1", line["subordinate_id"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	l := New(nil)
	require.Equal(t, logrus.InfoLevel, l.GetLevel())
	_, ok := l.Formatter.(*logrus.TextFormatter)
	require.True(t, ok)
}
