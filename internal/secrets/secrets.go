// Package secrets reads credentials from the environment first and the OS
// keychain second.
package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService groups the pipeline's secrets in the OS keychain.
const KeyringService = "jobmate-pipeline"

// Well-known keychain accounts.
const (
	AccountProxy   = "scraper:proxy"
	AccountCaptcha = "scraper:captcha"
)

var ErrNotFound = errors.New("secret not found in environment or keychain")

// Resolve returns envValue when it is set, otherwise the keychain entry for
// account.
func Resolve(envValue, account string) (string, error) {
	if v := strings.TrimSpace(envValue); v != "" {
		return v, nil
	}
	if strings.TrimSpace(account) == "" {
		return "", ErrNotFound
	}
	v, err := keyring.Get(KeyringService, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keychain %s: %w", account, err)
	}
	if strings.TrimSpace(v) == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Optional is Resolve for secrets a deployment may leave unset: a missing or
// unreadable keychain entry yields "".
func Optional(envValue, account string) string {
	v, err := Resolve(envValue, account)
	if err != nil {
		return ""
	}
	return v
}

func Set(account, value string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("secret is empty")
	}
	return keyring.Set(KeyringService, account, value)
}

func Delete(account string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	return keyring.Delete(KeyringService, account)
}

// IMAPAccount names the keychain entry of an inbox password.
func IMAPAccount(username, addr string) string {
	return fmt.Sprintf("imap:%s@%s", username, addr)
}
