package healthprobe

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/cenkalti/backoff/v5"
)

// runProbe dispatches to the protocol-specific single-attempt checker and
// retries it per the target's RetryCount, reporting UP iff any attempt
// succeeds. The last error's message is preserved on failure.
func runProbe(ctx context.Context, client *http.Client, target ProbeTarget) Verdict {
	hc := target.HealthCheck

	attempt := func() (struct{}, error) {
		var err error
		switch hc.Type {
		case CheckTCP:
			err = tcpProbe(ctx, target)
		case CheckScript:
			return struct{}{}, nil
		default:
			err = httpProbe(ctx, client, target)
		}
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	}

	if hc.Type == CheckScript {
		return Verdict{
			ServiceID:  target.ServiceID,
			InstanceID: target.InstanceID,
			Healthy:    true,
			Message:    "Script check not implemented",
		}
	}

	maxTries := hc.RetryCount
	if maxTries < 1 {
		maxTries = 1
	}

	_, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewConstantBackOff(0)),
		backoff.WithMaxTries(uint(maxTries)),
	)
	if err != nil {
		return Verdict{
			ServiceID:  target.ServiceID,
			InstanceID: target.InstanceID,
			Healthy:    false,
			Message:    err.Error(),
		}
	}
	return Verdict{
		ServiceID:  target.ServiceID,
		InstanceID: target.InstanceID,
		Healthy:    true,
		Message:    "",
	}
}

// httpProbe issues GET {scheme}://{host}:{port}{path}; 200<=code<400 is healthy.
func httpProbe(ctx context.Context, client *http.Client, target ProbeTarget) error {
	scheme := "http"
	if target.Secure {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s:%d%s", scheme, target.Host, target.Port, target.HealthCheck.Path)

	probeCtx, cancel := context.WithTimeout(ctx, target.HealthCheck.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// tcpProbe opens a TCP connection under the configured timeout.
func tcpProbe(ctx context.Context, target ProbeTarget) error {
	addr := fmt.Sprintf("%s:%d", target.Host, target.Port)
	dialer := net.Dialer{Timeout: target.HealthCheck.Timeout}

	probeCtx, cancel := context.WithTimeout(ctx, target.HealthCheck.Timeout)
	defer cancel()

	conn, err := dialer.DialContext(probeCtx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
