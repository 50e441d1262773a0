package spanbuf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBuffer_AddAndFlush(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBuffer(4, 10, 30)

	require.NoError(t, b.AddSpan(ctx, "trace-a", Span{Payload: []byte("span-1")}, 100))
	require.NoError(t, b.AddSpan(ctx, "trace-a", Span{Payload: []byte("span-2")}, 101))

	segs, err := b.FlushSegments(ctx, 10, 105)
	require.NoError(t, err)
	assert.Empty(t, segs, "segment is not yet past its deadline")

	segs, err = b.FlushSegments(ctx, 10, 111)
	require.NoError(t, err)
	require.Contains(t, segs, "trace-a")
	assert.Len(t, segs["trace-a"].Spans, 2)
}

func TestMemoryBuffer_LeaseHidesSegmentUntilAckOrExpiry(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBuffer(1, 0, 20)

	require.NoError(t, b.AddSpan(ctx, "trace-a", Span{Payload: []byte("span-1")}, 0))

	first, err := b.FlushSegments(ctx, 10, 1)
	require.NoError(t, err)
	require.Contains(t, first, "trace-a")

	again, err := b.FlushSegments(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, again, "a leased segment must not be returned again before its lease expires")

	afterLease, err := b.FlushSegments(ctx, 10, 25)
	require.NoError(t, err)
	assert.Contains(t, afterLease, "trace-a", "lease expiry makes the segment eligible again, allowing the documented duplicate-on-crash re-flush")

	require.NoError(t, b.DoneFlushSegments(ctx, first))
	none, err := b.FlushSegments(ctx, 10, 1000)
	require.NoError(t, err)
	assert.Empty(t, none, "acknowledging removes the segment permanently")
}

func TestMemoryBuffer_MaxSegmentsCapsPerShardBatch(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBuffer(1, 0, 30)
	for i := 0; i < 5; i++ {
		key := string(rune('a' + i))
		require.NoError(t, b.AddSpan(ctx, key, Span{Payload: []byte("x")}, 0))
	}

	segs, err := b.FlushSegments(ctx, 2, 100)
	require.NoError(t, err)
	assert.Len(t, segs, 2)
}

func TestMemoryBuffer_AssignedShardsStable(t *testing.T) {
	b := NewMemoryBuffer(3, 10, 10)
	first := b.AssignedShards()
	second := b.AssignedShards()
	assert.Equal(t, first, second)
	assert.Len(t, first, 3)
}

func TestMemoryBuffer_MemoryInfoTracksPayloadBytes(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBuffer(1, 10, 10)
	require.NoError(t, b.AddSpan(ctx, "trace-a", Span{Payload: []byte("123456789")}, 0))

	infos, err := b.MemoryInfo(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.EqualValues(t, 9, infos[0].Used)
}
