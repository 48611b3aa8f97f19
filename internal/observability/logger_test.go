package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerLoggerConfig(t *testing.T) {
	cfg := serverLoggerConfig(ServerLogOptions{
		Service:   "panelsim",
		Level:     "Warning",
		Format:    "CONSOLE",
		Namespace: "panel",
		Fields:    map[string]any{"rpm_limit": 15},
	})

	assert.Equal(t, "WARN", cfg.DefaultLevel)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "panel", cfg.StaticFields["namespace"])
	assert.Equal(t, 15, cfg.StaticFields["rpm_limit"])
	if assert.Len(t, cfg.Sinks, 1) {
		assert.Equal(t, "console", cfg.Sinks[0].Format)
		assert.True(t, cfg.Sinks[0].Console.Colorize)
	}

	cfg = serverLoggerConfig(ServerLogOptions{Service: "panelsim", Format: "yaml", Environment: "staging"})
	assert.Equal(t, "INFO", cfg.DefaultLevel)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "json", cfg.Sinks[0].Format)
}

func TestLevelName(t *testing.T) {
	cases := map[string]string{"trace": "TRACE", " DEBUG ": "DEBUG", "error": "ERROR", "": "INFO", "loud": "INFO"}
	for in, want := range cases {
		assert.Equal(t, want, levelName(in), in)
	}
}
