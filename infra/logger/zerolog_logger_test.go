package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewZerologLogger(t *testing.T) {
	log := NewZerologLogger("test")
	assert.NotNil(t, log)

	// exercise every level; output formatting is zerolog's concern
	log.Debugf("debug %s", "message")
	log.Debugw("debug with fields", map[string]any{"job": "job-1", "attempt": 2})
	log.Infof("info %d", 42)
	log.Warnf("warn")
	log.Errorf("error: %v", assert.AnError)
}

func TestNewZerologLoggerDevEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	log := NewZerologLogger("test")
	assert.NotNil(t, log)
	log.Infof("console output")
}

func TestNopLogger(t *testing.T) {
	var log Logger = NopLogger{}
	log.Debugf("ignored")
	log.Debugw("ignored", nil)
	log.Infof("ignored")
	log.Warnf("ignored")
	log.Errorf("ignored")
}
