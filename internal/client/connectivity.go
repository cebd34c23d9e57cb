package client

import (
	"context"
	"io"
	"net/http"
	"time"
)

// ConnectivityChecker reports whether the service can reach the internet. Polled, never pushed.
type ConnectivityChecker interface {
	IsOnline(ctx context.Context) bool
}

// HTTPConnectivityChecker probes a "generate_204" style URL. Only a 2xx answer
// counts as online; redirects usually mean a captive portal and are not followed.
type HTTPConnectivityChecker struct {
	url    string
	client *http.Client
}

func NewHTTPConnectivityChecker(probeURL string, timeout time.Duration) *HTTPConnectivityChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPConnectivityChecker{
		url: probeURL,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *HTTPConnectivityChecker) IsOnline(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// StaticConnectivity is a fixed answer, used when no probe URL is configured.
type StaticConnectivity bool

func (s StaticConnectivity) IsOnline(ctx context.Context) bool {
	return bool(s)
}
