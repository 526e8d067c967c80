package notify

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name SMTP passwords are stored under.
const KeyringService = "desco-monitor"

var (
	keyringGet = keyring.Get
	keyringSet = keyring.Set
)

// PasswordFromKeyring looks up the SMTP password for user. A missing entry
// returns "", nil so callers can fall back to the config file.
func PasswordFromKeyring(user string) (string, error) {
	secret, err := keyringGet(KeyringService, user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keyring lookup for %s: %w", user, err)
	}
	return secret, nil
}

// StorePassword saves the SMTP password for user in the OS keyring.
func StorePassword(user, password string) error {
	if err := keyringSet(KeyringService, user, password); err != nil {
		return fmt.Errorf("keyring store for %s: %w", user, err)
	}
	return nil
}
