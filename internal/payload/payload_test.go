package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segflusher/internal/spanbuf"
)

func TestEncode_PreservesOrderAndEmbedsRaw(t *testing.T) {
	seg := spanbuf.FlushedSegment{
		Key: "trace-a",
		Spans: []spanbuf.Span{
			{Payload: []byte(`{"id":"1"}`)},
			{Payload: []byte(`{"id":"2"}`)},
		},
	}

	out, err := Encode(seg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"spans":[{"id":"1"},{"id":"2"}]}`, string(out))
}

func TestEncode_EmptySegment(t *testing.T) {
	out, err := Encode(spanbuf.FlushedSegment{Key: "trace-b"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"spans":[]}`, string(out))
}
