package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedBackoff(t *testing.T) {
	calc := FixedBackoff(3 * time.Second)

	assert.Equal(t, 3*time.Second, calc(1))
	assert.Equal(t, 3*time.Second, calc(7))
}

func TestExponentialBackoff(t *testing.T) {
	calc := ExponentialBackoff(time.Second)

	assert.Equal(t, 500*time.Millisecond, calc(1))
	assert.Equal(t, 1500*time.Millisecond, calc(2))
	assert.Equal(t, 3500*time.Millisecond, calc(3))

	assert.Equal(t, calc(2), ExponentialBackoffSeconds()(2))
}

func TestReconnectPolicyAllows(t *testing.T) {
	p := newReconnectPolicy(2, FixedBackoff(0))

	assert.True(t, p.allows(1))
	assert.True(t, p.allows(2))
	assert.False(t, p.allows(3))

	disabled := newReconnectPolicy(0, FixedBackoff(0))
	assert.False(t, disabled.allows(1))
}

func TestReconnectPolicyWaitCancelled(t *testing.T) {
	p := newReconnectPolicy(1, FixedBackoff(time.Minute))

	cancel := make(chan struct{})
	close(cancel)

	start := time.Now()
	assert.False(t, p.wait(1, cancel))
	assert.Less(t, time.Since(start), time.Second)
}

func TestReconnectPolicyZeroDelayStillCancellable(t *testing.T) {
	p := newReconnectPolicy(1, FixedBackoff(0))

	cancel := make(chan struct{})
	assert.True(t, p.wait(1, cancel))

	close(cancel)
	assert.False(t, p.wait(1, cancel))
}
