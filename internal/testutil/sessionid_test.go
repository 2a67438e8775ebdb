package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedSessionID_ReturnsSameID(t *testing.T) {
	gen := NewFixedSessionID("test-session-123")

	assert.Equal(t, "test-session-123", gen.Generate())
	assert.Equal(t, "test-session-123", gen.Generate())
}

func TestFixedSessionID_EmptyIDDefault(t *testing.T) {
	gen := NewFixedSessionID("")

	assert.Equal(t, "test-session-default", gen.Generate())
}

func TestFixedSessionID_ThreadSafe(t *testing.T) {
	gen := NewFixedSessionID("thread-safe-id")

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				assert.Equal(t, "thread-safe-id", gen.Generate())
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
