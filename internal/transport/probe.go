package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/nodewire/nodewire/pkg/errors"
)

// DefaultProbeTimeout is the per-endpoint dial budget.
const DefaultProbeTimeout = 1 * time.Second

// Probe checks basic network reachability: it dials the given host:port
// endpoints with a blocking short-timeout TCP connect and succeeds as soon as
// one accepts. It deliberately avoids the session's event machinery so it can
// run before (or after) any connection exists.
//
// A DNS resolution failure maps to ErrNetworkUnavailable; a network that
// refuses or times out on every endpoint maps to ErrNetworkUnreachable.
func Probe(endpoints []string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	var lastErr error
	for _, ep := range endpoints {
		conn, err := net.DialTimeout("tcp", ep, timeout)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			lastErr = fmt.Errorf("probe %s: %w: %w", ep, errors.ErrNetworkUnavailable, err)
			continue
		}
		lastErr = fmt.Errorf("probe %s: %w: %w", ep, errors.ErrNetworkUnreachable, err)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("probe: %w: no endpoints configured", errors.ErrNetworkUnavailable)
	}
	return lastErr
}
