package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink_PublishRecordsPayload(t *testing.T) {
	s := NewMemorySink()
	h, err := s.Publish(context.Background(), "trace-a", []byte(`{"spans":[]}`))
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))

	pub := s.Published()
	require.Len(t, pub, 1)
	assert.Equal(t, "trace-a", pub[0].Key)
}

func TestMemorySink_FailNext(t *testing.T) {
	s := NewMemorySink()
	boom := errors.New("boom")
	s.FailNext(boom)

	h, err := s.Publish(context.Background(), "trace-a", []byte(`{}`))
	require.NoError(t, err)
	assert.ErrorIs(t, h.Wait(context.Background()), boom)
	assert.Empty(t, s.Published(), "a failed publish must not be recorded as delivered")

	h2, err := s.Publish(context.Background(), "trace-b", []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, h2.Wait(context.Background()))
	assert.Len(t, s.Published(), 1, "FailNext only affects the next call")
}
