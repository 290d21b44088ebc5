package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestSuppressorLifetime(t *testing.T) {
	s := newSuppressor(0)
	clock := &fakeClock{now: time.Unix(0, 0)}
	s.nowFunc = clock.Now

	assert.True(t, s.admit("Alice"))
	assert.False(t, s.admit("Alice"))
	assert.True(t, s.admit("Bob"))

	clock.now = clock.now.Add(1000 * time.Hour)
	assert.False(t, s.admit("Alice"))
}

func TestSuppressorWindow(t *testing.T) {
	s := newSuppressor(time.Minute)
	clock := &fakeClock{now: time.Unix(0, 0)}
	s.nowFunc = clock.Now

	assert.True(t, s.admit("Alice"))
	clock.now = clock.now.Add(30 * time.Second)
	assert.False(t, s.admit("Alice"))

	clock.now = clock.now.Add(31 * time.Second)
	assert.True(t, s.admit("Alice"))
	assert.False(t, s.admit("Alice"))
}

func TestSuppressorDropsExpired(t *testing.T) {
	s := newSuppressor(time.Second)
	clock := &fakeClock{now: time.Unix(0, 0)}
	s.nowFunc = clock.Now

	for i := 0; i < 100; i++ {
		s.admit(fmt.Sprintf("author-%d", i))
	}
	clock.now = clock.now.Add(500 * time.Millisecond)
	s.admit("late")
	assert.Equal(t, 101, s.size())

	// only the entries admitted at the start have expired
	clock.now = clock.now.Add(600 * time.Millisecond)
	s.admit("trigger")
	assert.Equal(t, 2, s.size())
	assert.False(t, s.admit("late"))
}

func TestSuppressorDisabled(t *testing.T) {
	s := newSuppressor(-1)
	for i := 0; i < 3; i++ {
		assert.True(t, s.admit("Alice"))
	}
	assert.Equal(t, 0, s.size())
}
