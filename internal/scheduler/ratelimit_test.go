package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubmitLimiterDisabledWhenRPMIsZero(t *testing.T) {
	l := NewSubmitLimiter(0, nil)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("1.2.3.4"))
	}
}

func TestSubmitLimiterNilReceiverAlwaysAllows(t *testing.T) {
	var l *SubmitLimiter
	assert.True(t, l.Allow("1.2.3.4"))
}

func TestSubmitLimiterInMemoryEnforcesPerIPQuota(t *testing.T) {
	l := NewSubmitLimiter(2, nil)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))

	// A different IP has its own independent quota.
	assert.True(t, l.Allow("5.6.7.8"))
}
