package utils

import (
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a helpful suggestion for the user
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// Common error constructors with suggestions

// ErrSyncNotEnabled creates an error when sync operations are attempted but sync is disabled
func ErrSyncNotEnabled() error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("sync is not enabled in configuration"),
		Suggestion: "Enable sync in ~/.config/habitsync/config.yaml by setting 'sync.enabled: true'",
	}
}

// ErrRemoteOffline creates an error when the remote drive cannot be reached
func ErrRemoteOffline(remoteName, reason string) error {
	suggestion := "Check your internet connection and try again"
	if strings.Contains(reason, "DNS") || strings.Contains(reason, "no such host") {
		suggestion = "Check your DNS settings and internet connection"
	} else if strings.Contains(reason, "refused") {
		suggestion = "Check if the server is running and accessible"
	} else if strings.Contains(reason, "timeout") {
		suggestion = "The server may be slow or unreachable. Try again later"
	}

	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("remote '%s' is offline: %s", remoteName, reason),
		Suggestion: suggestion,
	}
}

// ErrAuthenticationFailed creates an error when the remote rejects the credentials
func ErrAuthenticationFailed(remoteName string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("authentication failed for %s", remoteName),
		Suggestion: fmt.Sprintf("Update the stored password with 'habitsync credentials set %s --prompt'", remoteName),
	}
}

// ErrQuotaExceeded creates an error when the remote drive has no space left
func ErrQuotaExceeded(remoteName string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("storage quota exceeded on %s", remoteName),
		Suggestion: "Free up space in your cloud drive, then run 'habitsync sync' again. Your pending sync stays queued",
	}
}

// ErrCredentialsNotFound creates an error when credentials are not found
func ErrCredentialsNotFound(remoteName, username string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("credentials not found for %s (user: %s)", remoteName, username),
		Suggestion: fmt.Sprintf("Store credentials with 'habitsync credentials set %s %s --prompt'", remoteName, username),
	}
}

// ErrInvalidConfig creates an error for invalid configuration
func ErrInvalidConfig(field string, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid configuration for '%s': %s", field, reason),
		Suggestion: fmt.Sprintf("Check ~/.config/habitsync/config.yaml and fix the '%s' field", field),
	}
}

// ErrSimulatedEnvironment creates an error explaining why sync refuses to run
func ErrSimulatedEnvironment() error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("sync is disabled in simulated environments"),
		Suggestion: "Unset HABITSYNC_SIMULATED and set 'device.simulated: false' to sync from a real device",
	}
}

// ErrHabitNotFound creates an error when a habit name does not match
func ErrHabitNotFound(name string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("no habit named '%s'", name),
		Suggestion: "Run 'habitsync habit list' to see your habits",
	}
}

// WrapWithSuggestion wraps an existing error with a suggestion
func WrapWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}
