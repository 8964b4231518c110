package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_DelayGrowsAndCaps(t *testing.T) {
	p := defaultRetryPolicy(5)
	p.Jitter = false

	d1 := p.delay(1)
	d2 := p.delay(2)
	assert.Equal(t, time.Second, d1)
	assert.Equal(t, 2*time.Second, d2)

	dCapped := p.delay(20)
	assert.Equal(t, p.MaxDelay, dCapped)
}

func TestRetryPolicy_JitterStaysWithinBounds(t *testing.T) {
	p := defaultRetryPolicy(5)
	d := p.delay(3)
	base := time.Duration(float64(p.InitialDelay) * 4)
	assert.InDelta(t, float64(base), float64(d), float64(base)*0.15)
}
