package credentials

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringServicePrefix is the prefix for all habitsync keyring entries
	KeyringServicePrefix = "habitsync"
)

// ErrNotFound is returned when the keyring holds no password for a remote
var ErrNotFound = errors.New("credentials not found in keyring")

// getServiceName returns the keyring service name for a remote
func getServiceName(remoteName string) string {
	return fmt.Sprintf("%s-%s", KeyringServicePrefix, remoteName)
}

// Set stores a remote password in the OS keyring
func Set(remoteName, username, password string) error {
	if remoteName == "" {
		return fmt.Errorf("remote name cannot be empty")
	}
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if err := keyring.Set(getServiceName(remoteName), username, password); err != nil {
		return fmt.Errorf("failed to store credentials in keyring: %w", err)
	}
	return nil
}

// Get retrieves a remote password from the OS keyring
func Get(remoteName, username string) (string, error) {
	if remoteName == "" {
		return "", fmt.Errorf("remote name cannot be empty")
	}
	if username == "" {
		return "", fmt.Errorf("username cannot be empty")
	}

	password, err := keyring.Get(getServiceName(remoteName), username)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w for remote %q and user %q", ErrNotFound, remoteName, username)
	}
	if err != nil {
		return "", fmt.Errorf("failed to retrieve credentials from keyring: %w", err)
	}
	return password, nil
}

// Delete removes a remote password from the OS keyring
func Delete(remoteName, username string) error {
	if remoteName == "" {
		return fmt.Errorf("remote name cannot be empty")
	}
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	err := keyring.Delete(getServiceName(remoteName), username)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%w for remote %q and user %q", ErrNotFound, remoteName, username)
	}
	if err != nil {
		return fmt.Errorf("failed to delete credentials from keyring: %w", err)
	}
	return nil
}

// IsAvailable checks if the keyring is accessible, so callers can explain
// why credentials could not be stored
func IsAvailable() bool {
	// A working keyring answers ErrNotFound for an entry nobody writes
	_, err := keyring.Get("habitsync-keyring-test", "test")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
