package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/freefinder/internal/notify"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, from string, to []string, msg []byte) error {
	args := m.Called(ctx, from, to, msg)
	return args.Error(0)
}

func testSummary() notify.Summary {
	return notify.Summary{Count: 2, Items: []notify.Item{
		{Title: "Free couch", URL: "https://x/1.html"},
		{Title: "Garden hose", URL: "https://x/2.html"},
	}}
}

func TestBuildMessage(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	msg := string(buildMessage("bot@example.com", []string{"a@example.com", "b@example.com"}, testSummary(), at))

	head, body, found := strings.Cut(msg, "\r\n\r\n")
	require.True(t, found)
	assert.Contains(t, head, "From: bot@example.com\r\n")
	assert.Contains(t, head, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, head, "Subject: FreeFinder: 2 new free items\r\n")
	assert.Contains(t, head, "Date: Sun, 15 Jun 2025 12:00:00 +0000")
	assert.Equal(t, "Free couch - https://x/1.html\r\nGarden hose - https://x/2.html\r\n", body)
}

func TestDeliverUsesSender(t *testing.T) {
	t.Parallel()
	ch, err := New(Config{Host: "smtp.example.com", From: "bot@example.com", To: []string{"me@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, 587, ch.cfg.Port)

	sender := &mockSender{}
	sender.On("Send", mock.Anything, "bot@example.com", []string{"me@example.com"}, mock.AnythingOfType("[]uint8")).
		Return(nil).Once()
	ch.sender = sender

	require.NoError(t, ch.Deliver(context.Background(), testSummary()))
	sender.AssertExpectations(t)
}

func TestDeliverSenderError(t *testing.T) {
	t.Parallel()
	ch, err := New(Config{Host: "smtp.example.com", Security: SecurityTLS, From: "f@x", To: []string{"t@x"}})
	require.NoError(t, err)
	assert.Equal(t, 465, ch.cfg.Port)

	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("535 auth failed"))
	ch.sender = sender

	require.ErrorContains(t, ch.Deliver(context.Background(), testSummary()), "535 auth failed")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing host", Config{From: "f", To: []string{"t"}}, "notify.email.host"},
		{"missing from", Config{Host: "h", To: []string{"t"}}, "notify.email.from"},
		{"missing to", Config{Host: "h", From: "f"}, "notify.email.to"},
		{"bad security", Config{Host: "h", From: "f", To: []string{"t"}, Security: "ssl3"}, "notify.email.security"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.cfg)
			require.ErrorContains(t, err, tc.want)
		})
	}
}
