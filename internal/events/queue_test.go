package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePushPopFIFOOrder(t *testing.T) {
	q := NewQueue()
	q.Push(Event{Kind: KindIMU, Time: 1})
	q.Push(Event{Kind: KindGNSS, Time: 2})

	require.Equal(t, 2, q.Len())
	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1.0, first.Time)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2.0, second.Time)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueuePeekTimeDoesNotRemove(t *testing.T) {
	q := NewQueue()
	_, ok := q.PeekTime()
	assert.False(t, ok)

	q.Push(Event{Time: 3.5})
	peeked, ok := q.PeekTime()
	require.True(t, ok)
	assert.Equal(t, 3.5, peeked)
	assert.Equal(t, 1, q.Len())
}

func TestNewQueueWithCapacityStartsEmpty(t *testing.T) {
	q := NewQueueWithCapacity(16)
	assert.Equal(t, 0, q.Len())
	q.Push(Event{Time: 1})
	assert.Equal(t, 1, q.Len())
}
