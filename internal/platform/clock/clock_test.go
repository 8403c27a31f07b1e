package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMock_AdvanceAndSince(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMock(start)

	assert.Equal(t, start, c.Now())

	c.Advance(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, c.Since(start))

	c.Set(start.Add(time.Second))
	assert.Equal(t, time.Second, c.Since(start))
}

func TestReal_SinceIsNonNegative(t *testing.T) {
	var c Clock = Real{}
	t0 := c.Now()
	assert.GreaterOrEqual(t, c.Since(t0), time.Duration(0))
}
