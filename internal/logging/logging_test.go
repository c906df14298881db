package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponent(t *testing.T) {
	entry := New().WithComponent("pipeline")
	assert.Equal(t, "pipeline", entry.Data["component"])
}

func TestConfigureRejectsInvalidInput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	log := New()
	assert.Error(t, log.Configure("loud", "json", "stderr", 0))
	assert.Error(t, log.Configure("info", "xml", "stderr", 0))
}

func TestJSONOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	log := New()
	require.NoError(t, log.Configure("info", "json", "stderr", 0))
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithComponent("collector").WithFields(Fields{"stage": "aggregate"}).Info("stage complete")

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "stage complete", doc["message"])
	assert.Equal(t, "collector", doc["component"])
	assert.Equal(t, "aggregate", doc["stage"])
}

func TestFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "collector.log")
	log := New()
	require.NoError(t, log.Configure("warn", "text", path, 0))

	log.WithComponent("test").Info("hidden")
	log.WithComponent("test").Warn("visible")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible")
	assert.NotContains(t, string(data), "hidden")
}
