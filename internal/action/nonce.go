package action

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Olympe-Studio/ferndev/internal/fault"
)

// FetchNonce loads the page and returns the nonce the server publishes in
// NonceHeader. Session cookies set by the page are kept in the client jar, so
// the nonce stays valid for subsequent calls from the same client.
func (c *Client) FetchNonce(ctx context.Context) (string, error) {
	if c == nil || c.page == nil {
		return "", fault.New(fault.KindNoBrowserContext, http.StatusBadRequest, "nonce lookup requires a page context")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, errCallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.page.String(), nil)
	if err != nil {
		return "", fault.Wrap(fault.KindNetwork, "fetch page nonce", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if context.Cause(ctx) == errCallTimeout {
			return "", &fault.Error{Kind: fault.KindTimeout, Op: "fetch page nonce", Status: http.StatusRequestTimeout, Err: errCallTimeout}
		}
		return "", fault.Wrap(fault.KindNetwork, "fetch page nonce", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &fault.Error{Kind: fault.KindHTTP, Op: "fetch page nonce", Status: resp.StatusCode, Message: fmt.Sprintf("HTTP error %d", resp.StatusCode)}
	}
	nonce := strings.TrimSpace(resp.Header.Get(NonceHeader))
	if nonce == "" {
		return "", &fault.Error{Kind: fault.KindValidation, Op: "fetch page nonce", Status: resp.StatusCode, Message: "page did not publish a nonce"}
	}
	return nonce, nil
}
