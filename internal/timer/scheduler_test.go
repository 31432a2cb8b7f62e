package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualFiresInOrder(t *testing.T) {
	start := time.Date(2024, 12, 20, 19, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var fired []string
	m.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	m.AfterFunc(time.Second, func() {
		fired = append(fired, "a")
		m.AfterFunc(500*time.Millisecond, func() { fired = append(fired, "a2") })
	})
	stopped := m.AfterFunc(1500*time.Millisecond, func() { fired = append(fired, "never") })
	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	m.Advance(1600 * time.Millisecond)
	assert.Equal(t, []string{"a", "a2"}, fired)
	assert.Equal(t, start.Add(1600*time.Millisecond), m.Now())
	assert.Equal(t, 1, m.Pending())

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "a2", "b"}, fired)
	assert.Equal(t, 0, m.Pending())
}
