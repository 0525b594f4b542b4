package rest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/Iron-Ham/elmctl/internal/errors"
)

// messageClasses maps remote message codes to error classes. The first code
// found in any message wins.
var messageClasses = []struct {
	code  string
	class errors.Class
}{
	{"C1G0167E", errors.ClassSignOutConflict},     // signed out to another user
	{"C1G0410E", errors.ClassFingerprintMismatch}, // fingerprint does not match
	{"C1G0024E", errors.ClassDuplicateElement},    // element already exists
}

func init() {
	for _, m := range messageClasses {
		if !m.class.Valid() {
			panic(fmt.Sprintf("rest: message code %s maps to invalid class %v", m.code, m.class))
		}
	}
}

// classifyMessages returns the class of the first recognised message code,
// or ClassGeneric.
func classifyMessages(messages []string) errors.Class {
	for _, m := range messageClasses {
		for _, msg := range messages {
			if strings.Contains(msg, m.code) {
				return m.class
			}
		}
	}
	return errors.ClassGeneric
}

// transportError classifies a failure to exchange a request with the remote.
func transportError(element string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.NewRemoteError(errors.ClassConnectionFailed, "request cancelled").
			WithElement(element).
			WithCause(err)
	case isCertError(err):
		return errors.NewRemoteError(errors.ClassCertValidationFailed, "certificate rejected").
			WithElement(element).
			WithCause(err)
	default:
		return errors.NewRemoteError(errors.ClassConnectionFailed, "remote unreachable").
			WithElement(element).
			WithCause(err)
	}
}

func isCertError(err error) bool {
	var (
		verification *tls.CertificateVerificationError
		authority    x509.UnknownAuthorityError
		hostname     x509.HostnameError
		invalid      x509.CertificateInvalidError
	)
	return errors.As(err, &verification) ||
		errors.As(err, &authority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid)
}
