package credentials

import (
	"fmt"
	"net/url"

	"habitsync/internal/utils"
)

// Source indicates where credentials were found
type Source string

const (
	SourceKeyring Source = "keyring"
	SourceEnv     Source = "env"
	SourceURL     Source = "url"
	SourceNone    Source = "none"
)

// Credentials represents resolved authentication credentials
type Credentials struct {
	Username string
	Password string
	Source   Source
}

// Resolver finds credentials in priority order: keyring, environment
// variables, then credentials embedded in the configured URL
type Resolver struct {
	keyringAvailable func() bool
}

// NewResolver creates a new credential resolver
func NewResolver() *Resolver {
	return &Resolver{keyringAvailable: IsAvailable}
}

// Resolve looks up credentials for a remote. username is the configured
// user, used as the keyring account; configURL may be empty.
func (r *Resolver) Resolve(remoteName, username, configURL string) (*Credentials, error) {
	if remoteName == "" {
		return nil, fmt.Errorf("remote name is required for credential resolution")
	}

	var parsedURL *url.URL
	if configURL != "" {
		u, err := url.Parse(configURL)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		parsedURL = u
	}
	if username == "" && parsedURL != nil && parsedURL.User != nil {
		username = parsedURL.User.Username()
	}

	// Priority 1: keyring, when the user is known
	if username != "" && r.keyringAvailable() {
		password, err := Get(remoteName, username)
		if err == nil {
			return &Credentials{Username: username, Password: password, Source: SourceKeyring}, nil
		}
		utils.Debugf("Keyring lookup for %s skipped: %v", remoteName, err)
	}

	// Priority 2: environment variables
	envUsername := GetUsername(remoteName)
	envPassword := GetPassword(remoteName)
	if envPassword != "" {
		if envUsername == "" {
			envUsername = username
		}
		if envUsername != "" {
			return &Credentials{Username: envUsername, Password: envPassword, Source: SourceEnv}, nil
		}
	}

	// Priority 3: credentials in the URL
	if parsedURL != nil && parsedURL.User != nil {
		urlPassword, ok := parsedURL.User.Password()
		if ok && urlPassword != "" {
			return &Credentials{Username: parsedURL.User.Username(), Password: urlPassword, Source: SourceURL}, nil
		}
	}

	return nil, fmt.Errorf("no credentials found for remote %q (tried: keyring, environment variables, config URL)", remoteName)
}
