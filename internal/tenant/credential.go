// ABOUTME: Tenant credential format checks and log redaction.
// ABOUTME: A credential is "<digits>:<secret>" with a secret longer than 20 characters.

package tenant

import (
	"errors"
	"strings"
)

// ErrInvalidCredential indicates a credential that cannot belong to a bot.
var ErrInvalidCredential = errors.New("invalid credential format")

const minSecretLen = 21

// ValidateCredential checks the "<bot id>:<secret>" shape without contacting
// the transport.
func ValidateCredential(credential string) error {
	id, secret, ok := strings.Cut(credential, ":")
	if !ok || strings.Contains(secret, ":") {
		return ErrInvalidCredential
	}
	if id == "" || strings.TrimLeft(id, "0123456789") != "" {
		return ErrInvalidCredential
	}
	if len(secret) < minSecretLen {
		return ErrInvalidCredential
	}
	return nil
}

// RedactCredential keeps only the public bot id for logging.
func RedactCredential(credential string) string {
	id, _, ok := strings.Cut(credential, ":")
	if !ok {
		return "***"
	}
	return id + ":***"
}
