// Package fetcher performs the outbound GET for the extraction pipeline,
// retrying connection-level failures with capped exponential backoff.
package fetcher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/use-agent/pluck/metrics"
	"github.com/use-agent/pluck/models"
)

// Config controls a Fetcher. Zero values take the defaults below.
type Config struct {
	Timeout        time.Duration // per attempt; default 30s
	MaxRetries     int           // total attempts; default 3
	UserAgent      string
	InitialBackoff time.Duration // default 1s
	MaxBackoff     time.Duration // default 30s
	MaxBodyBytes   int64         // default 10 MiB
	HostRPS        float64       // 0 disables per-host spacing
	HostBurst      int
	ChromeTLS      bool
}

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultMaxBodyBytes   = 10 << 20
	DefaultUserAgent      = "Mozilla/5.0 (compatible; PluckBot/1.0; +https://github.com/use-agent/pluck)"
)

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// Result describes one logical fetch. Attempts counts every try including
// the first.
type Result struct {
	Success      bool
	Body         []byte
	StatusCode   int
	Headers      http.Header
	ResponseTime time.Duration
	Attempts     int
	Error        string
	FinalURL     string
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithDialControl installs a dial-time address check.
func WithDialControl(control DialControl) Option {
	return func(f *Fetcher) { f.control = control }
}

// WithHTTPClient replaces the client built from Config.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithSleep replaces the backoff sleep.
func WithSleep(s SleepFunc) Option {
	return func(f *Fetcher) { f.sleep = s }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	control DialControl
	hosts   *hostLimiter
	sleep   SleepFunc
	logger  *slog.Logger
}

// New creates a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:    cfg.withDefaults(),
		sleep:  sleepCtx,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = newClient(f.cfg.ChromeTLS, f.control)
	}
	f.hosts = newHostLimiter(f.cfg.HostRPS, f.cfg.HostBurst)
	return f
}

// Close stops background work.
func (f *Fetcher) Close() {
	f.hosts.Stop()
}

// WorstCase bounds a single Fetch: every attempt timing out, every backoff
// sleep, and one extra timeout of headroom for host spacing and body reads.
func (f *Fetcher) WorstCase() time.Duration {
	total := f.cfg.Timeout * time.Duration(f.cfg.MaxRetries+1)
	for i := 1; i < f.cfg.MaxRetries; i++ {
		total += Backoff(f.cfg.InitialBackoff, f.cfg.MaxBackoff, i)
	}
	return total
}

// Fetch GETs rawURL. The returned Result is never nil; on failure the error
// is a *models.ScraperError and Result.Error carries its message.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()
	res := &Result{}
	defer func() {
		res.ResponseTime = time.Since(start)
		metrics.ObserveFetch(res.ResponseTime)
	}()

	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
	}

	delay := f.cfg.InitialBackoff
	var lastErr error
	for {
		res.Attempts++

		waited, err := f.hosts.Wait(ctx, host)
		metrics.ObserveHostWait(waited)
		if err == nil {
			err = f.attempt(ctx, rawURL, res)
		}
		if err == nil {
			metrics.RecordFetchAttempt("success")
			res.Success = true
			return res, nil
		}
		lastErr = err

		if !f.retryable(ctx, err) || res.Attempts >= f.cfg.MaxRetries {
			break
		}

		metrics.RecordFetchAttempt("retry")
		f.logger.Warn("fetch attempt failed, retrying",
			"url", rawURL,
			"attempt", res.Attempts,
			"delay", delay,
			"error", err,
		)
		if err := f.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay = min(delay*2, f.cfg.MaxBackoff)
	}

	se := f.classify(ctx, lastErr)
	if se.Kind != models.KindNetwork || se.StatusCode == 0 {
		metrics.RecordFetchAttempt("failure")
	}
	res.Error = se.Error()
	return res, se.With("url", rawURL).With("attempts", res.Attempts)
}

// statusError is an HTTP-level failure. It is never retried.
type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.code, http.StatusText(e.code))
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string, res *Result) error {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return models.NewValidationError("invalid target URL", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.Headers = resp.Header
	res.FinalURL = resp.Request.URL.String()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RecordFetchAttempt("http_error")
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return &statusError{code: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	res.Body = body
	return nil
}

// retryable reports whether err is a connection-level failure worth
// another attempt. Caller cancellation, HTTP statuses and classified
// errors are final.
func (f *Fetcher) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *models.ScraperError
	if errors.As(err, &se) {
		return false
	}
	var st *statusError
	if errors.As(err, &st) {
		return false
	}
	return IsRetryable(err)
}

// IsRetryable reports whether err belongs to a transient transport
// failure class: refused or reset connections, dropped connections, DNS
// failures, dial errors and timeouts. Redirect policy and certificate
// verification failures are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var redir *redirectError
	if errors.As(err, &redir) {
		return false
	}
	if isCertificateError(err) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isCertificateError matches failed certificate verification from both the
// standard and the Chrome-fingerprint TLS stacks; both wrap x509 errors.
func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid)
}

func (f *Fetcher) classify(ctx context.Context, err error) *models.ScraperError {
	var se *models.ScraperError
	if errors.As(err, &se) {
		return se
	}
	var st *statusError
	if errors.As(err, &st) {
		return models.NewNetworkError(st.Error(), st.code, st.retryAfter, nil)
	}
	if ctx.Err() != nil {
		return models.AsScraperError(ctx.Err())
	}
	if isTimeout(err) {
		return models.NewTimeoutError(
			fmt.Sprintf("request timed out after %s", f.cfg.Timeout), f.cfg.Timeout, err)
	}
	return models.NewNetworkError("failed to fetch URL", 0, 0, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}

// Backoff returns the sleep before retry n (1-based): initial doubled
// n-1 times, capped at maxDelay.
func Backoff(initial, maxDelay time.Duration, n int) time.Duration {
	d := initial
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return min(d, maxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
