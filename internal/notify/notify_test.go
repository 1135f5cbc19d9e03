package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/freefinder/internal/crawler"
)

type MockChannel struct {
	mock.Mock
	name string
}

func (m *MockChannel) Name() string { return m.name }

func (m *MockChannel) Deliver(ctx context.Context, summary Summary) error {
	args := m.Called(ctx, summary)
	return args.Error(0)
}

type panickyChannel struct{}

func (panickyChannel) Name() string { return "panicky" }

func (panickyChannel) Deliver(context.Context, Summary) error { panic("boom") }

func records() []crawler.ListingRecord {
	return []crawler.ListingRecord{
		{ID: "a", Title: "Free couch", URL: "https://x/1.html"},
		{ID: "b", Title: "Garden hose", URL: "https://x/2.html"},
	}
}

func TestNewSummary(t *testing.T) {
	t.Parallel()
	s := NewSummary(records())
	assert.Equal(t, Summary{Count: 2, Items: []Item{
		{Title: "Free couch", URL: "https://x/1.html"},
		{Title: "Garden hose", URL: "https://x/2.html"},
	}}, s)
	assert.Equal(t, "FreeFinder: 2 new free items", s.Headline())
	assert.Equal(t, "FreeFinder: 2 new free items\nFree couch - https://x/1.html\nGarden hose - https://x/2.html", s.Text())
	assert.Equal(t, "FreeFinder: 1 new free item", NewSummary(records()[:1]).Headline())
}

func TestDispatchFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	failing := &MockChannel{name: "slack"}
	failing.On("Deliver", mock.Anything, mock.Anything).Return(errors.New("webhook down"))
	ok := &MockChannel{name: "ntfy"}
	ok.On("Deliver", mock.Anything, NewSummary(records())).Return(nil)

	d := NewDispatcher(nil, failing, panickyChannel{}, ok)
	outcomes := d.Dispatch(context.Background(), records())

	require.Len(t, outcomes, 3)
	assert.Equal(t, "slack", outcomes[0].Channel)
	assert.EqualError(t, outcomes[0].Err, "webhook down")
	assert.Equal(t, "panicky", outcomes[1].Channel)
	assert.Error(t, outcomes[1].Err)
	assert.Equal(t, "ntfy", outcomes[2].Channel)
	assert.NoError(t, outcomes[2].Err)
	failing.AssertExpectations(t)
	ok.AssertExpectations(t)
}

func TestDispatchEmptySetSkipsChannels(t *testing.T) {
	t.Parallel()
	ch := &MockChannel{name: "slack"}
	d := NewDispatcher(nil)
	d.Register(ch)

	assert.Nil(t, d.Dispatch(context.Background(), nil))
	ch.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"slack"}, d.Channels())
}
