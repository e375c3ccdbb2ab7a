// Package proxy loads the proxy list and builds proxied HTTP transports.
package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// List is an ordered set of proxy URLs. A nil or empty list means direct
// connections only.
type List []string

// Load reads newline-separated proxy URLs from path. A missing file yields an
// empty list and no error.
func Load(path string) (List, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open proxy list: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads one proxy URL per line, skipping blanks. Every entry must have
// a supported scheme.
func Parse(r io.Reader) (List, error) {
	var list List
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		if _, err := ParseURL(raw); err != nil {
			return nil, fmt.Errorf("proxy line %d: %w", line, err)
		}
		list = append(list, raw)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read proxy list: %w", err)
	}
	return list, nil
}

// For returns the proxy assigned to account index i, or "" when the list is
// empty.
func (l List) For(i int) string {
	if len(l) == 0 || i < 0 {
		return ""
	}
	return l[i%len(l)]
}

// ParseURL validates a proxy URL and normalizes its scheme. socks, socks5
// and socks5h map to socks5, which is what net/http dials. SOCKS4 is not
// spoken by net/http and is rejected.
func ParseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch {
	case scheme == "socks4" || scheme == "socks4a":
		return nil, fmt.Errorf("unsupported proxy scheme %q: only SOCKS5 and HTTP proxies are supported", u.Scheme)
	case scheme == "socks" || scheme == "socks5" || scheme == "socks5h":
		u.Scheme = "socks5"
	case scheme == "http" || scheme == "https":
		u.Scheme = scheme
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy URL %q has no host", raw)
	}
	return u, nil
}

// Redact hides credentials for logging.
func Redact(raw string) string {
	if raw == "" {
		return "none"
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// NewTransport returns a transport that routes through proxyURL, or a direct
// transport when proxyURL is empty.
func NewTransport(proxyURL string) (*http.Transport, error) {
	t := &http.Transport{
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	if proxyURL == "" {
		return t, nil
	}
	u, err := ParseURL(proxyURL)
	if err != nil {
		return nil, err
	}
	t.Proxy = http.ProxyURL(u)
	return t, nil
}

// NewHTTPClient wraps NewTransport in a client with the given timeout.
func NewHTTPClient(proxyURL string, timeout time.Duration) (*http.Client, error) {
	t, err := NewTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t, Timeout: timeout}, nil
}
