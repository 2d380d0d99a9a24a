package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestZapLogger_Fields verifies fields are converted to zap fields
// Given: A ZapLogger over an observed zap core
// When: A message with a plain field and an error field is logged
// Then: Both fields reach the zap entry under their keys
func TestZapLogger_Fields(t *testing.T) {
	// Arrange
	zc, logs := observer.New(zap.DebugLevel)
	l := NewZapLogger(zap.New(zc))

	// Act
	l.Warn("pool low", F("pool", "stacks"), F("err", errors.New("boom")))

	// Assert
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pool low", entries[0].Message)
	fields := entries[0].ContextMap()
	assert.Equal(t, "stacks", fields["pool"])
	assert.Equal(t, "boom", fields["err"])
	assert.NotNil(t, NewZapLogger(nil).Zap())
}

// TestKernel_LogsLifecycle verifies the kernel logs through the configured logger
// Given: A kernel configured with an observed zap logger
// When: A thread is created, the kernel starts and the thread panics
// Then: Creation, start and panic entries are logged with kernel and thread fields
func TestKernel_LogsLifecycle(t *testing.T) {
	// Arrange
	zc, logs := observer.New(zap.DebugLevel)
	k := newTestKernel(t, &Config{
		Logger:       NewZapLogger(zap.New(zc)),
		PanicHandler: &capturePanicHandler{},
	})
	spawn(t, k, "noisy", 1, func(context.Context, uint64) { panic("bad input") })

	// Act
	require.NoError(t, k.Start())
	waitIdle(t, k)

	// Assert
	created := logs.FilterMessage("thread created").All()
	require.Len(t, created, 1)
	assert.Equal(t, "noisy", created[0].ContextMap()["thread"])
	assert.Equal(t, k.ID(), created[0].ContextMap()["kernel"])
	assert.Equal(t, 1, logs.FilterMessage("kernel started").Len())
	panicked := logs.FilterMessage("thread panicked").All()
	require.Len(t, panicked, 1)
	assert.Equal(t, zap.ErrorLevel, panicked[0].Level)
}
