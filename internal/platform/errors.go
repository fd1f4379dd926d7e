package platform

import (
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrPermissionDenied marks enforcement calls the bot account lacks rights
// for. Logged and abandoned, never retried.
var ErrPermissionDenied = errors.New("insufficient rights")

// FloodError is the platform demanding a cooldown. The caller sleeps exactly
// RetryAfter and the attempt is then complete; there is no retry loop.
type FloodError struct {
	RetryAfter time.Duration
}

func (e *FloodError) Error() string {
	return fmt.Sprintf("flood wait %s", e.RetryAfter)
}

// classifyError maps a telegram API error into the local taxonomy. Anything
// unrecognized passes through as a transient platform error.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.RetryAfter > 0 {
		return &FloodError{RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second}
	}
	msg := strings.ToLower(apiErr.Message)
	if apiErr.Code == 403 ||
		strings.Contains(msg, "not enough rights") ||
		strings.Contains(msg, "chat_admin_required") ||
		strings.Contains(msg, "user is an administrator") {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, apiErr.Message)
	}
	return err
}
