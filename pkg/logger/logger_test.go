package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestInit_OverridesLazyDefault(t *testing.T) {
	t.Cleanup(func() { Init(Config{Level: "info", Format: "json", Output: "discard"}) })

	lazy := Get()
	assert.NotNil(t, lazy)

	Init(Config{Level: "warn", Format: "json", Output: "discard"})
	assert.NotSame(t, lazy, Get(), "Init 在 Get 之后调用仍生效")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	Init(Config{Level: "debug", Format: "json", Output: "discard"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
	assert.Same(t, Get(), Get())
}
