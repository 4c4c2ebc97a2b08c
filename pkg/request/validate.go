package request

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError marks a malformed request input. Requests failing
// validation are rejected before any side effect occurs.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// MaxDurationHours bounds any request duration, regardless of policy.
const MaxDurationHours = 720

var accountIDPattern = regexp.MustCompile(`^\d{12}$`)

func ValidateDuration(hours float64) error {
	if hours <= 0 {
		return &ValidationError{Field: "duration", Message: fmt.Sprintf("must be positive, got %g hours", hours)}
	}
	if hours > MaxDurationHours {
		return &ValidationError{Field: "duration", Message: fmt.Sprintf("exceeds maximum of %d hours (30 days), got %g", MaxDurationHours, hours)}
	}
	return nil
}

func ValidateAccountID(accountID string) error {
	if accountID == "" {
		return &ValidationError{Field: "account id", Message: "cannot be empty"}
	}
	if !accountIDPattern.MatchString(accountID) {
		return &ValidationError{Field: "account id", Message: fmt.Sprintf("expected 12 digits, got %q", accountID)}
	}
	return nil
}

func ValidateARN(arn string) error {
	if arn == "" {
		return &ValidationError{Field: "arn", Message: "cannot be empty"}
	}
	if !strings.HasPrefix(arn, "arn:aws:") {
		return &ValidationError{Field: "arn", Message: fmt.Sprintf("must start with arn:aws:, got %q", arn)}
	}
	if len(strings.Split(arn, ":")) < 6 {
		return &ValidationError{Field: "arn", Message: fmt.Sprintf("expected at least 6 colon-separated parts: %q", arn)}
	}
	return nil
}
