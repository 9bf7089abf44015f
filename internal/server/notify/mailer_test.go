package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

var now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newUser(t *testing.T) *models.User {
	t.Helper()
	u, err := models.NewUser("old@example.com", "Ola", nil, nil, "hash", now)
	require.NoError(t, err)
	return u
}

func TestHandler_SendsNotices(t *testing.T) {
	u := newUser(t)
	require.NoError(t, u.ChangeEmail("new@example.com", now))
	require.NoError(t, u.SetPasswordHash("hash2", now))
	require.NoError(t, u.UpdateProfile("Ola N", nil, nil, now))

	s := &fakeSender{}
	h := NewHandler(s, nil)
	for _, e := range u.PullEvents() {
		require.NoError(t, h.Handle(context.Background(), e))
	}

	require.Len(t, s.sent, 3)
	assert.Equal(t, "old@example.com", s.sent[0].To)
	assert.Contains(t, s.sent[0].Body, "Ola")
	assert.Equal(t, "old@example.com", s.sent[1].To)
	assert.Contains(t, s.sent[1].Body, "new@example.com")
	assert.Equal(t, "new@example.com", s.sent[2].To)
	assert.Equal(t, "Your password was changed", s.sent[2].Subject)
}

func TestHandler_PropagatesSendErrors(t *testing.T) {
	u := newUser(t)
	h := NewHandler(&fakeSender{err: errors.New("relay down")}, nil)

	err := h.Handle(context.Background(), u.PullEvents()[0])
	assert.EqualError(t, err, "relay down")
}

func TestSMTPSender_Message(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 587, "user", "pass", "no-reply@example.com")
	m := s.message(Message{To: "a@example.com", Subject: "Hi", Body: "hello"})

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "From: no-reply@example.com")
	assert.Contains(t, raw, "To: a@example.com")
	assert.Contains(t, raw, "Subject: Hi")
	assert.Contains(t, raw, "hello")
}

func TestSMTPSender_CancelledContext(t *testing.T) {
	s := NewSMTPSender("smtp.invalid", 25, "", "", "x@example.com")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Send(ctx, Message{To: "a@example.com"}), context.Canceled)
}
