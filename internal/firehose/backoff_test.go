package firehose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Sequence(t *testing.T) {
	b := NewBackoff(DefaultInitialDelay, DefaultMaxDelay)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Next(), "attempt %d", i)
	}
}

func TestBackoff_ResetAfterSuccess(t *testing.T) {
	b := NewBackoff(DefaultInitialDelay, DefaultMaxDelay)
	b.Next()
	b.Next()
	b.Next()

	b.Reset()

	assert.Equal(t, 0, b.Attempt())
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoff_StaysCappedForever(t *testing.T) {
	b := NewBackoff(DefaultInitialDelay, DefaultMaxDelay)
	var last time.Duration
	for i := 0; i < 200; i++ {
		last = b.Next()
	}
	assert.Equal(t, DefaultMaxDelay, last)
}
