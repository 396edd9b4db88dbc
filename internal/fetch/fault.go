package fetch

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrNoNetwork marks transport failures that indicate the environment has no
// usable network path. Walkers abort instead of burning the retry budget.
var ErrNoNetwork = errors.New("no network")

// ErrInvalidJSON marks a response body that did not decode. Terminal for the
// URL.
var ErrInvalidJSON = errors.New("invalid JSON")

// HTTPError is a terminal non-2xx response.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// StatusCode unwraps the HTTP status of an error, if it carries one.
func StatusCode(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}

// IsNotFound reports whether the error is an HTTP 404.
func IsNotFound(err error) bool {
	code, ok := StatusCode(err)
	return ok && code == 404
}

// isNoNetwork classifies raw transport errors that mean the network itself
// is unusable rather than the remote host misbehaving.
func isNoNetwork(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range []syscall.Errno{
		syscall.ENETUNREACH,
		syscall.EHOSTUNREACH,
		syscall.ECONNREFUSED,
		syscall.ETIMEDOUT,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound || dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	msg := err.Error()
	return strings.Contains(msg, "ENOTFOUND") || strings.Contains(msg, "EAI_AGAIN")
}

// IsCertExpired reports whether the error is an expired TLS certificate.
func IsCertExpired(err error) bool {
	if err == nil {
		return false
	}
	var certErr x509.CertificateInvalidError
	if errors.As(err, &certErr) && certErr.Reason == x509.Expired {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "cert_has_expired") || strings.Contains(msg, "certificate has expired")
}

// IsTLS reports whether the error is any TLS, SSL, or certificate failure.
func IsTLS(err error) bool {
	if err == nil {
		return false
	}
	var (
		certInvalid   x509.CertificateInvalidError
		unknownAuth   x509.UnknownAuthorityError
		hostnameError x509.HostnameError
	)
	if errors.As(err, &certInvalid) || errors.As(err, &unknownAuth) || errors.As(err, &hostnameError) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tls") || strings.Contains(msg, "ssl") || strings.Contains(msg, "certificate")
}

// IsTimeout reports whether the error is a deadline or timeout failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded")
}
