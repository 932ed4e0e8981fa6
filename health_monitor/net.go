package health_monitor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"time"
)

func doHttp(ctx context.Context, url url.URL, timeout time.Duration) (int, error) {
	client := http.Client{
		Timeout: timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

func doTcp(ctx context.Context, url url.URL, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(url.Hostname(), url.Port()))
	if err != nil {
		return err
	}
	return conn.Close()
}

func doIcmp(ctx context.Context, url url.URL, timeout time.Duration) error {
	host := url.Hostname()
	// Execute the 'ping' command
	return exec.CommandContext(ctx,
		"ping",
		"-c", "1", "-W", fmt.Sprintf("%.0f", timeout.Seconds()),
		host,
	).Run()
}
