package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowBurstThenWait(t *testing.T) {
	l := New(60, 2)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.nowFunc = func() time.Time { return now }

	ok, _ := l.Allow("1.2.3.4")
	require.True(t, ok)
	ok, _ = l.Allow("1.2.3.4")
	require.True(t, ok)

	ok, wait := l.Allow("1.2.3.4")
	require.False(t, ok)
	require.InDelta(t, float64(time.Second), float64(wait), float64(10*time.Millisecond))

	// other clients have their own bucket
	ok, _ = l.Allow("5.6.7.8")
	require.True(t, ok)

	now = now.Add(time.Second)
	ok, _ = l.Allow("1.2.3.4")
	require.True(t, ok)
}

func TestIdleKeysAreForgotten(t *testing.T) {
	l := New(60, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.nowFunc = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	require.Equal(t, 2, l.Len())

	now = now.Add(11 * time.Minute)
	l.Allow("c")
	require.Equal(t, 1, l.Len())
}
