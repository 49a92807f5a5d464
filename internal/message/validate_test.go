package message

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		max     int
		wantErr bool
	}{
		{"plain text", "hi", 10, false},
		{"empty", "", 10, true},
		{"whitespace only", " \t\n", 10, true},
		{"at limit", strings.Repeat("a", 10), 10, false},
		{"over limit", strings.Repeat("a", 11), 10, true},
		{"multibyte counted as characters", strings.Repeat("é", 10), 10, false},
		{"no limit", strings.Repeat("a", 5000), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			err := ValidateContent(tt.content, tt.max)
			if !tt.wantErr {
				req.NoError(err)
				return
			}
			var ve *ValidationError
			req.True(errors.As(err, &ve))
			req.Equal("content", ve.Field)
		})
	}
}

func TestParseRecipient(t *testing.T) {
	sender := uuid.New()
	recipient := uuid.New()

	t.Run("valid recipient", func(t *testing.T) {
		req := require.New(t)
		got, err := ParseRecipient(recipient.String(), sender)
		req.NoError(err)
		req.Equal(recipient, got)
	})

	t.Run("uppercase recipient", func(t *testing.T) {
		req := require.New(t)
		got, err := ParseRecipient(strings.ToUpper(recipient.String()), sender)
		req.NoError(err)
		req.Equal(recipient, got)
	})

	t.Run("uppercase self addressed", func(t *testing.T) {
		_, err := ParseRecipient(strings.ToUpper(sender.String()), sender)
		require.True(t, IsValidation(err))
	})

	t.Run("missing recipient", func(t *testing.T) {
		req := require.New(t)
		_, err := ParseRecipient("", sender)
		req.True(IsValidation(err))
		req.Contains(err.Error(), "is required")
	})

	t.Run("not a uuid", func(t *testing.T) {
		req := require.New(t)
		_, err := ParseRecipient("u2", sender)
		req.True(IsValidation(err))
		req.Contains(err.Error(), "must be a UUID")
	})

	t.Run("self addressed", func(t *testing.T) {
		req := require.New(t)
		_, err := ParseRecipient(sender.String(), sender)
		req.True(IsValidation(err))
		req.Contains(err.Error(), "must differ from sender")
	})
}

func TestWrapStorage(t *testing.T) {
	req := require.New(t)

	req.NoError(WrapStorage("create", nil))
	req.ErrorIs(WrapStorage("get", ErrNotFound), ErrNotFound)
	req.False(IsStorage(WrapStorage("get", ErrNotFound)))

	cause := errors.New("disk on fire")
	wrapped := WrapStorage("create", cause)
	req.True(IsStorage(wrapped))
	req.ErrorIs(wrapped, cause)
	req.Equal("storage create: disk on fire", wrapped.Error())

	req.Same(wrapped, WrapStorage("outer", wrapped))
}
