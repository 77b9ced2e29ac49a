package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/mrs-eval/images"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"", logrus.InfoLevel},
		{"debug", logrus.DebugLevel},
		{" WARN ", logrus.WarnLevel},
		{"trace", logrus.TraceLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.ErrorIs(t, err, images.ErrInvalidConfig)
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "warn", false)
	require.NoError(t, err)
	hook := test.NewLocal(log)

	log.Info("hidden")
	log.WithField("image", "austin1").Warn("shown")

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "austin1", hook.LastEntry().Data["image"])
	assert.Contains(t, buf.String(), "image=austin1")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "info", true)
	require.NoError(t, err)
	log.WithField("iou", 75.5).Info("scored")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scored", line["msg"])
	assert.Equal(t, 75.5, line["iou"])
}

func TestFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	log, closer, err := FromConfig(Config{Level: "debug", File: path})
	require.NoError(t, err)
	log.Debug("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")

	log, closer, err = FromConfig(Config{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.NoError(t, closer.Close())

	_, _, err = FromConfig(Config{Level: "nope", File: path})
	assert.ErrorIs(t, err, images.ErrInvalidConfig)
}
