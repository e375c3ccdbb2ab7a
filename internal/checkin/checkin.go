// Package checkin performs the daily points check-in against the XOS API.
package checkin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gateway-fm/xosactivity/internal/proxy"
)

// DefaultURL is the check-in endpoint.
const DefaultURL = "https://api.x.ink/v1/check-in"

const (
	origin         = "https://x.ink"
	alreadyChecked = "Already checked in today"
)

// Outcome of a check-in.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeAlready Outcome = "already"
	OutcomeFailed  Outcome = "failed"
)

// UserAgents is the browser pool a request picks from.
var UserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:130.0) Gecko/20100101 Firefox/130.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Edge/119.0.0.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Android 13; Mobile; rv:109.0) Gecko/109.0 Firefox/109.0",
}

// Result is the decoded check-in response.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Points  float64 `json:"pointsEarned,omitempty"`
	Count   int     `json:"checkInCount,omitempty"`
	Message string  `json:"message,omitempty"`
}

type response struct {
	Success      bool    `json:"success"`
	PointsEarned float64 `json:"pointsEarned"`
	CheckInCount int     `json:"check_in_count"`
	Error        string  `json:"error"`
}

// Client posts check-ins. Each call builds a transport for the account's
// proxy.
type Client struct {
	url     string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a check-in client. An empty url uses DefaultURL.
func New(url string, timeout time.Duration, logger *slog.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{url: url, timeout: timeout, logger: logger}
}

// CheckIn posts a check-in for token through proxyURL. The returned error
// is non-nil exactly when the outcome is OutcomeFailed.
func (c *Client) CheckIn(ctx context.Context, token, proxyURL string) (Result, error) {
	res, err := c.checkIn(ctx, token, proxyURL)
	switch res.Outcome {
	case OutcomeSuccess:
		c.logger.Info("Check-in successful",
			slog.Float64("pointsEarned", res.Points),
			slog.Int("checkInCount", res.Count),
		)
	case OutcomeAlready:
		c.logger.Info("Check-in skipped: Already checked in today")
	default:
		c.logger.Error("Check-in failed", slog.String("error", err.Error()))
	}
	return res, err
}

func (c *Client) checkIn(ctx context.Context, token, proxyURL string) (Result, error) {
	failed := Result{Outcome: OutcomeFailed}

	httpClient, err := proxy.NewHTTPClient(proxyURL, c.timeout)
	if err != nil {
		return failed, err
	}
	defer httpClient.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return failed, fmt.Errorf("creating request: %w", err)
	}
	setHeaders(req, token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return failed, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failed, fmt.Errorf("reading response: %w", err)
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		if resp.StatusCode >= 400 {
			return failed, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
		}
		return failed, fmt.Errorf("decoding response: %w", err)
	}

	switch {
	case r.Success && resp.StatusCode < 400:
		return Result{Outcome: OutcomeSuccess, Points: r.PointsEarned, Count: r.CheckInCount}, nil
	case r.Error == alreadyChecked:
		return Result{Outcome: OutcomeAlready, Message: r.Error}, nil
	case r.Error != "":
		failed.Message = r.Error
		return failed, errors.New(r.Error)
	case resp.StatusCode >= 400:
		return failed, fmt.Errorf("HTTP %d", resp.StatusCode)
	default:
		failed.Message = "No error message"
		return failed, errors.New(failed.Message)
	}
}

func setHeaders(req *http.Request, token string) {
	h := req.Header
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "en-GB,en-US;q=0.9,en;q=0.8")
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	h.Set("Origin", origin)
	h.Set("Referer", origin+"/")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-site")
	h.Set("User-Agent", UserAgents[rand.IntN(len(UserAgents))])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
