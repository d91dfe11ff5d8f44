package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{name: "default", level: "", want: zapcore.InfoLevel},
		{name: "info", level: "INFO", want: zapcore.InfoLevel},
		{name: "error", level: "error", want: zapcore.ErrorLevel},
		{name: "debug", level: "debug", want: zapcore.Level(-1)},
		{name: "trace", level: " trace ", want: zapcore.Level(-2)},
		{name: "unknown", level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLevel(tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger("debug", true)
	require.NoError(t, err)
	assert.True(t, log.V(DEBUG).Enabled())
	assert.False(t, log.V(TRACE).Enabled())

	_, err = NewLogger("verbose", false)
	assert.Error(t, err)
}

func TestNewTestLogger(t *testing.T) {
	log := NewTestLogger()
	assert.True(t, log.V(TRACE).Enabled())
	log.V(TRACE).Info("trace message", "iteration", 3)
}
