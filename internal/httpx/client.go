// Package httpx is a thin wrapper around [http.Client] used by the range
// provider: it pins the User-Agent header and classifies response-class
// failures so the caller can decide what is worth retrying.
package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/ioutil"
	"github.com/c2h5oh/datasize"
)

// DefaultMaxBodySize is the [Config.MaxBodySize] used when it is left zero.
// One range response lists every breached hash under a single 5-hex prefix;
// a legitimate response is a few hundred kilobytes at most, so this is a
// generous ceiling against a misbehaving or hostile upstream.
const DefaultMaxBodySize = 16 * datasize.MB

// Client is a wrapper around [http.Client] that always sends a configured
// User-Agent header and caps the size of the bodies it reads.
type Client struct {
	http        *http.Client
	userAgent   string
	maxBodySize datasize.ByteSize
}

// Config is the configuration structure for [New].
type Config struct {
	// UserAgent is sent with every request.
	UserAgent string

	// Timeout, if non-zero, bounds one request including any redirects.
	Timeout time.Duration

	// MaxBodySize caps how much of a response body [Client.ReadBody] will
	// read. Defaults to [DefaultMaxBodySize] when zero.
	MaxBodySize datasize.ByteSize
}

// New returns a new Client.  conf must not be nil.
func New(conf *Config) (c *Client) {
	maxBodySize := conf.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = DefaultMaxBodySize
	}

	return &Client{
		http:        &http.Client{Timeout: conf.Timeout},
		userAgent:   conf.UserAgent,
		maxBodySize: maxBodySize,
	}
}

// Get performs an HTTP GET against url, setting the configured User-Agent.
// When err is nil, resp always contains a non-nil resp.Body; the caller must
// close it.  A transport-level failure (as opposed to a non-2xx response) is
// always wrapped in [ErrTransient].
func (c *Client) Get(ctx context.Context, url string) (resp *http.Response, err error) {
	defer func() { err = errors.Annotate(err, "httpx: getting %q: %w", url) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set(httphdr.UserAgent, c.userAgent)

	resp, err = c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransient, err)
	}

	return resp, nil
}

// ReadBody reads resp.Body in full, up to the configured MaxBodySize, and
// closes it. It mirrors the size-capped download pattern the range provider
// needs when pulling a prefix's record list.
func (c *Client) ReadBody(resp *http.Response) (body []byte, err error) {
	defer resp.Body.Close()

	body, err = io.ReadAll(ioutil.LimitReader(resp.Body, c.maxBodySize.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("httpx: reading body: %w", err)
	}

	return body, nil
}

// StatusError is returned by [CheckStatus] when the response's status code
// is not 2xx.
type StatusError struct {
	ServerName string
	Got        int
}

// type check
var _ error = (*StatusError)(nil)

// Error implements the error interface for *StatusError.
func (err *StatusError) Error() (msg string) {
	return fmt.Sprintf("server %q: unexpected status %d", err.ServerName, err.Got)
}

// IsTransient reports whether the status code represents a transient,
// retry-worthy failure (a 5xx server error), as opposed to one that should
// fail fast (a 4xx client error or any other non-2xx status).
func (err *StatusError) IsTransient() (ok bool) {
	return err.Got >= 500
}

// CheckStatus returns a non-nil *StatusError if resp's status code is not a
// 2xx. resp must not be nil.
func CheckStatus(resp *http.Response) (err error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	return &StatusError{
		ServerName: resp.Header.Get(httphdr.Server),
		Got:        resp.StatusCode,
	}
}

// ErrTransient is a sentinel wrapped around transport-level errors (those
// returned by [Client.Get] itself, as opposed to a non-2xx response) to mark
// them as retry-worthy.
var ErrTransient = errors.Error("httpx: transient transport error")
