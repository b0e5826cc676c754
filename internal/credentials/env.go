package credentials

import (
	"os"
	"strings"
)

// EnvPrefix starts every credential environment variable
const EnvPrefix = "HABITSYNC_"

// normalizeRemoteName converts a remote name to the format used in environment variables
// Example: "nextcloud-work" becomes "NEXTCLOUD_WORK"
func normalizeRemoteName(remoteName string) string {
	normalized := strings.ToUpper(remoteName)
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	return normalized
}

// getEnvVarName returns the environment variable name for a remote field
func getEnvVarName(remoteName, field string) string {
	return EnvPrefix + normalizeRemoteName(remoteName) + "_" + strings.ToUpper(field)
}

// GetUsername retrieves the username from environment variables
// Looks for: HABITSYNC_{REMOTE_NAME}_USERNAME
func GetUsername(remoteName string) string {
	if remoteName == "" {
		return ""
	}
	return os.Getenv(getEnvVarName(remoteName, "USERNAME"))
}

// GetPassword retrieves the password from environment variables
// Looks for: HABITSYNC_{REMOTE_NAME}_PASSWORD
func GetPassword(remoteName string) string {
	if remoteName == "" {
		return ""
	}
	return os.Getenv(getEnvVarName(remoteName, "PASSWORD"))
}

// HasCredentials checks if credentials exist in environment variables
func HasCredentials(remoteName string) bool {
	return GetUsername(remoteName) != "" && GetPassword(remoteName) != ""
}
