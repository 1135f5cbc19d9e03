package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/freefinder/internal/notify"
)

func TestChannelStoresSummaries(t *testing.T) {
	t.Parallel()
	ch := New()
	require.NoError(t, ch.Deliver(context.Background(), notify.Summary{Count: 1}))
	require.NoError(t, ch.Deliver(context.Background(), notify.Summary{Count: 2}))

	got := ch.Summaries()
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].Count)

	got[0].Count = 99
	assert.Equal(t, 1, ch.Summaries()[0].Count, "Summaries must return a copy")
}

func TestChannelFailWith(t *testing.T) {
	t.Parallel()
	ch := New()
	boom := errors.New("boom")
	ch.FailWith(boom)
	require.ErrorIs(t, ch.Deliver(context.Background(), notify.Summary{Count: 1}), boom)
	assert.Empty(t, ch.Summaries())
}
