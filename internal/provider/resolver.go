// Package provider resolves a validated chain connection for an account,
// preferring the account's proxy and falling back to a direct connection.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/gateway-fm/xosactivity/internal/errs"
	"github.com/gateway-fm/xosactivity/internal/proxy"
	"github.com/gateway-fm/xosactivity/internal/rpc"
)

// Config holds resolver settings.
type Config struct {
	URL               string
	ChainID           int64
	MaxRetries        int
	RetryDelay        time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Connection is a chain client whose chain ID has been verified.
type Connection struct {
	Client   rpc.Client
	ProxyURL string
	Direct   bool
}

// Close releases the client.
func (c *Connection) Close() {
	if c != nil && c.Client != nil {
		c.Client.Close()
	}
}

// Resolver builds connections. It is safe for concurrent use; all
// connections share one request rate limit.
type Resolver struct {
	cfg     Config
	chainID *big.Int
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a resolver. Zero-valued settings take their defaults.
func New(cfg Config, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Resolver{
		cfg:     cfg,
		chainID: big.NewInt(cfg.ChainID),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
	}
}

// Connect returns a verified connection through proxyURL, retrying up to
// MaxRetries times before one direct attempt. An empty proxyURL retries
// the direct connection instead. A chain ID mismatch is returned at once.
func (r *Resolver) Connect(ctx context.Context, proxyURL string) (*Connection, error) {
	attempt := 0
	op := func() (*Connection, error) {
		attempt++
		conn, err := r.attempt(ctx, proxyURL)
		if err != nil {
			r.logger.Warn("Connection attempt failed",
				slog.String("attempt", fmt.Sprintf("%d/%d", attempt, r.cfg.MaxRetries)),
				slog.String("proxy", proxy.Redact(proxyURL)),
				slog.String("error", err.Error()),
			)
			var mismatch *errs.ChainIDMismatchError
			if errors.As(err, &mismatch) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return conn, nil
	}

	conn, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.cfg.RetryDelay)),
		backoff.WithMaxTries(uint(r.cfg.MaxRetries)),
	)
	if err == nil {
		return conn, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	var mismatch *errs.ChainIDMismatchError
	if errors.As(err, &mismatch) {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if proxyURL == "" {
		return nil, &errs.ProviderUnavailableError{Attempts: attempt, Err: err}
	}

	r.logger.Warn("Proxy failed, falling back to direct connection",
		slog.String("proxy", proxy.Redact(proxyURL)),
		slog.String("error", err.Error()),
	)
	conn, directErr := r.attempt(ctx, "")
	if directErr != nil {
		var mismatch *errs.ChainIDMismatchError
		if errors.As(directErr, &mismatch) {
			return nil, directErr
		}
		r.logger.Error("Direct connection failed", slog.String("error", directErr.Error()))
		return nil, &errs.ProviderUnavailableError{Attempts: attempt + 1, Err: directErr}
	}
	return conn, nil
}

// attempt dials once and verifies the chain ID.
func (r *Resolver) attempt(ctx context.Context, proxyURL string) (*Connection, error) {
	base, err := proxy.NewTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{
		Transport: &rateLimitedTransport{base: base, limiter: r.limiter},
		Timeout:   r.cfg.Timeout,
	}

	client, err := rpc.Dial(ctx, r.cfg.URL, hc)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	id, err := client.ChainID(callCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("get chain ID: %w", err)
	}
	if id.Cmp(r.chainID) != 0 {
		client.Close()
		return nil, &errs.ChainIDMismatchError{Expected: new(big.Int).Set(r.chainID), Got: id}
	}

	r.logger.Debug("Connected to chain",
		slog.String("proxy", proxy.Redact(proxyURL)),
		slog.Int64("chainId", id.Int64()),
	)
	return &Connection{Client: client, ProxyURL: proxyURL, Direct: proxyURL == ""}, nil
}
