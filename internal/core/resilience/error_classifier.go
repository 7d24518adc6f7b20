package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// classifyError labels a renderer fetch failure for the retry metrics, so a
// dashboard can tell a slow competitor site (timeout) apart from one that's
// actively rate-limiting the renderer (rate_limit) or simply unreachable
// (network, dns).
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	if errors.Is(err, context.Canceled) {
		return "context_cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "network"
	}
	for _, se := range []error{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ENETUNREACH, syscall.EHOSTUNREACH} {
		if errors.Is(err, se) {
			return "network"
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"):
		return "rate_limit"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"), strings.Contains(msg, "i/o timeout"):
		return "timeout"
	case strings.Contains(msg, "blocked"), strings.Contains(msg, "403"), strings.Contains(msg, "captcha"):
		return "blocked"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return "network"
	default:
		return "unknown"
	}
}
