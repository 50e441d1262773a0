package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopLedger_NeverReportsDuplicates(t *testing.T) {
	var l NoopLedger
	dup, err := l.RecordDelivered(context.Background(), "trace-a", "commit-1")
	assert.NoError(t, err)
	assert.False(t, dup)

	dup, err = l.RecordDelivered(context.Background(), "trace-a", "commit-1")
	assert.NoError(t, err)
	assert.False(t, dup, "NoopLedger keeps no state, so it never reports a duplicate")
	l.Close()
}
