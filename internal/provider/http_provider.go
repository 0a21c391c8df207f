package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/pwnedrange/pwnedrange/internal/httpx"
)

// DefaultBaseURL is the upstream range service's base URL, per spec.md §6.
const DefaultBaseURL = "https://api.pwnedpasswords.com/range/"

// HTTPProvider is the real [Interface] implementation: it queries the
// upstream HTTPS range endpoint.
type HTTPProvider struct {
	client  *httpx.Client
	baseURL string
}

// type check
var _ Interface = (*HTTPProvider)(nil)

// NewHTTPProvider returns a new HTTPProvider.  client must not be nil;
// baseURL defaults to [DefaultBaseURL] when empty.
func NewHTTPProvider(client *httpx.Client, baseURL string) (p *HTTPProvider) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &HTTPProvider{client: client, baseURL: baseURL}
}

// Fetch implements the [Interface] interface for *HTTPProvider.  Line
// endings are normalised from CRLF to LF, per spec.md §6.
func (p *HTTPProvider) Fetch(ctx context.Context, prefix string) (body string, err error) {
	defer func() { err = errors.Annotate(err, "fetching prefix %q: %w", prefix) }()

	resp, err := p.client.Get(ctx, p.baseURL+prefix)
	if err != nil {
		// A transport-level failure from [httpx.Client.Get] is always
		// transient: it already carries [httpx.ErrTransient].
		return "", err
	}

	if statusErr := httpx.CheckStatus(resp); statusErr != nil {
		resp.Body.Close()

		if !isTransientStatus(statusErr) {
			return "", fmt.Errorf("%w: %w", ErrUpstreamFatal, statusErr)
		}

		return "", statusErr
	}

	raw, err := p.client.ReadBody(resp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", httpx.ErrTransient, err)
	}

	return strings.ReplaceAll(string(raw), "\r\n", "\n"), nil
}

// isTransientStatus reports whether err, which must have come from
// [httpx.CheckStatus], represents a retry-worthy failure.
func isTransientStatus(err error) (ok bool) {
	var statusErr *httpx.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.IsTransient()
	}

	return false
}
