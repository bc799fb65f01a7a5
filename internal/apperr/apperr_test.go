package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorFormatting(t *testing.T) {
	err := New(CodeHTTP, "chat not found").WithStatus(404)
	assert.Equal(t, "HTTP: chat not found (status 404)", err.Error())

	cause := errors.New("connection refused")
	wrapped := Wrap(cause, CodeNetwork, "GET /api/whatsapp/chats")
	assert.Equal(t, "NETWORK: GET /api/whatsapp/chats: connection refused", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestCodeThroughWrapping(t *testing.T) {
	base := New(CodeRateLimited, "cool-down active")
	err := fmt.Errorf("load chats: %w", base)

	assert.True(t, Is(err, CodeRateLimited))
	assert.False(t, Is(err, CodeNetwork))
	assert.False(t, Is(nil, CodeRateLimited))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))

	got, ok := As(err)
	require.True(t, ok)
	assert.Same(t, base, got)
}

func TestRetryableAndStatus(t *testing.T) {
	err := WrapRetryable(errors.New("reset"), CodeNetwork, "read")
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(New(CodeHTTP, "bad")))
	assert.Equal(t, 503, StatusOf(New(CodeHTTP, "down").WithStatus(503)))
	assert.Equal(t, 0, StatusOf(errors.New("x")))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"explicit", New(CodeSendFailed, "boom").WithUserMessage("Message not sent"), "Message not sent"},
		{"rate limited default", New(CodeRateLimited, "x"), "Rate limited. Please wait before making more requests."},
		{"recipient", New(CodeRecipientUnresolvable, "x"), "Cannot determine the recipient for this conversation"},
		{"http falls back to message", New(CodeHTTP, "Chat not found"), "Chat not found"},
		{"foreign", errors.New("x"), "An unexpected error occurred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}
