package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateContent checks that content is not blank and holds at most
// maxLength characters. A non-positive maxLength disables the limit.
func ValidateContent(content string, maxLength int) error {
	if err := validate.Var(strings.TrimSpace(content), "required"); err != nil {
		return &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if maxLength <= 0 {
		return nil
	}
	if err := validate.Var(content, fmt.Sprintf("max=%d", maxLength)); err != nil {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("exceeds %d characters", maxLength)}
	}
	return nil
}

// ParseRecipient validates a recipient identifier taken from the wire and
// rejects messages addressed to the sender.
func ParseRecipient(raw string, senderID uuid.UUID) (uuid.UUID, error) {
	if err := validate.Var(raw, "required"); err != nil {
		return uuid.Nil, &ValidationError{Field: "recipient_id", Reason: reasonFor(err)}
	}
	// uuid.Parse accepts either hex case; the validator's uuid tag does not.
	recipientID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &ValidationError{Field: "recipient_id", Reason: "must be a UUID"}
	}
	if recipientID == senderID {
		return uuid.Nil, &ValidationError{Field: "recipient_id", Reason: "must differ from sender"}
	}
	return recipientID, nil
}

func reasonFor(err error) string {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		switch fieldErrs[0].Tag() {
		case "required":
			return "is required"
		}
	}
	return err.Error()
}
