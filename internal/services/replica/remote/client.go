// Package remote implements the HTTP client for the remote event store API.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	apperrors "github.com/louisbranch/replica/internal/platform/errors"
	"github.com/louisbranch/replica/internal/platform/timeouts"
	"github.com/louisbranch/replica/internal/services/replica/domain"
	"github.com/louisbranch/replica/internal/services/replica/engine"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// HeaderSnapshotSequence carries the snapshot sequence ahead of the body.
	HeaderSnapshotSequence = "X-Snapshot-Sequence"
	// HeaderEntityCount carries the snapshot entity count ahead of the body.
	HeaderEntityCount = "X-Entity-Count"

	// DefaultMaxRetries is the number of retries after a failed first attempt.
	DefaultMaxRetries = 3

	snapshotPath = "/snapshot/latest"
	eventsPath   = "/events"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the remote API root. A bare host:port gets an http scheme.
	BaseURL string
	// Timeout bounds one request attempt. Event pages count the body in it;
	// snapshots only the response headers.
	Timeout time.Duration
	// SnapshotTimeout bounds a whole snapshot download, body included.
	SnapshotTimeout time.Duration
	MaxRetries      int
	// RetryInitialInterval is the first retry delay; zero uses the library default.
	RetryInitialInterval time.Duration
	// Transport overrides the base round tripper, mostly for tests.
	Transport http.RoundTripper
}

// Client talks to the remote event store.
type Client struct {
	base            *url.URL
	http            *http.Client
	timeout         time.Duration
	snapshotTimeout time.Duration
	maxRetries      int
	initial         time.Duration
}

// NewClient builds a client with otelhttp transport instrumentation.
func NewClient(cfg Config) (*Client, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = timeouts.HTTPRequest
	}
	snapshotTimeout := cfg.SnapshotTimeout
	if snapshotTimeout <= 0 {
		snapshotTimeout = timeouts.SnapshotDownload
	}
	snapshotTimeout = max(snapshotTimeout, timeout)
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Client{
		base: base,
		http: &http.Client{
			Transport: otelhttp.NewTransport(transport),
		},
		timeout:         timeout,
		snapshotTimeout: snapshotTimeout,
		maxRetries:      maxRetries,
		initial:         cfg.RetryInitialInterval,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("remote base url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse remote base url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("remote base url %q has no host", raw)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	return base, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// OpenSnapshot requests the latest snapshot. The body is left unread until
// Decode so the caller can inspect the sequence headers and abort.
func (c *Client) OpenSnapshot(ctx context.Context) (engine.SnapshotResponse, error) {
	resp, cancel, err := c.get(ctx, c.endpoint(snapshotPath, nil), c.snapshotTimeout, func(status int) error {
		if status == http.StatusNotFound {
			return domain.ErrNoSnapshot
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNoSnapshot) {
			return nil, err
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	return &snapshotResponse{resp: resp, cancel: cancel}, nil
}

// FetchEvents requests one page of history, newest first.
func (c *Client) FetchEvents(ctx context.Context, pageToken string, limit int) (domain.EventPage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if pageToken != "" {
		query.Set("cursor", pageToken)
	}
	resp, cancel, err := c.get(ctx, c.endpoint(eventsPath, query), c.timeout, nil)
	if err != nil {
		return domain.EventPage{}, fmt.Errorf("fetch events: %w", err)
	}
	defer cancel()
	defer resp.Body.Close()

	var page domain.EventPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return domain.EventPage{}, domain.DecodeError("decode events page", err)
	}
	return page, nil
}

type attempt struct {
	resp   *http.Response
	cancel context.CancelFunc
}

// get issues a GET with retries and returns a 2xx response with an unread
// body. Each attempt waits at most c.timeout for the response headers and
// budget for the whole exchange; the returned cancel ends the attempt and
// must be called once the body is consumed. classify may map a status to a
// permanent error before the generic status handling.
func (c *Client) get(ctx context.Context, target string, budget time.Duration, classify func(int) error) (*http.Response, context.CancelFunc, error) {
	policy := backoff.NewExponentialBackOff()
	if c.initial > 0 {
		policy.InitialInterval = c.initial
	}
	operation := func() (attempt, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, budget)
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
		if err != nil {
			cancel()
			return attempt{}, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		headerTimer := time.AfterFunc(c.timeout, cancel)
		resp, err := c.http.Do(req)
		if !headerTimer.Stop() && err == nil {
			// Headers arrived as the deadline fired; the body is unusable.
			discard(resp)
			err = fmt.Errorf("response headers: %w", context.DeadlineExceeded)
		}
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				return attempt{}, backoff.Permanent(domain.TransportError("request "+req.URL.Path, err))
			}
			return attempt{}, domain.TransportError("request "+req.URL.Path, err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return attempt{resp: resp, cancel: cancel}, nil
		}

		discard(resp)
		cancel()
		if classify != nil {
			if err := classify(resp.StatusCode); err != nil {
				return attempt{}, backoff.Permanent(err)
			}
		}
		statusErr := apperrors.WrapWithMetadata(apperrors.CodeTransport,
			fmt.Sprintf("%s returned %s", req.URL.Path, resp.Status),
			map[string]string{"url": target, "status": strconv.Itoa(resp.StatusCode)},
			nil)
		if retryableStatus(resp.StatusCode) {
			return attempt{}, statusErr
		}
		return attempt{}, backoff.Permanent(statusErr)
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
	)
	if err != nil {
		return nil, nil, err
	}
	return result.resp, result.cancel, nil
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}

type snapshotResponse struct {
	resp    *http.Response
	cancel  context.CancelFunc
	decoded bool
	closed  bool
}

func (s *snapshotResponse) Sequence() (int64, bool) {
	return headerInt(s.resp.Header, HeaderSnapshotSequence)
}

func (s *snapshotResponse) EntityCount() (int64, bool) {
	return headerInt(s.resp.Header, HeaderEntityCount)
}

func (s *snapshotResponse) Decode() (domain.RemoteSnapshot, error) {
	if s.closed {
		return domain.RemoteSnapshot{}, errors.New("decode snapshot: response closed")
	}
	if s.decoded {
		return domain.RemoteSnapshot{}, errors.New("decode snapshot: body already consumed")
	}
	s.decoded = true

	var snapshot domain.RemoteSnapshot
	if err := json.NewDecoder(s.resp.Body).Decode(&snapshot); err != nil {
		return domain.RemoteSnapshot{}, domain.DecodeError("decode snapshot", err)
	}
	return snapshot, nil
}

// Close releases the response. Closing before Decode cancels the request so
// the rest of the body is never transferred.
func (s *snapshotResponse) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.resp.Body.Close()
}

func headerInt(header http.Header, key string) (int64, bool) {
	raw := strings.TrimSpace(header.Get(key))
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

var _ engine.Remote = (*Client)(nil)
