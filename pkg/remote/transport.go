package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

const (
	callPath     = "/call"
	responsePath = "/response"
	clearPath    = "/clear"
)

// Transport carries the three operations of the wire protocol. Send returns
// the immediate reply to a call; Poll returns the next completion from the
// stream shared by every caller of the server.
type Transport interface {
	Send(ctx context.Context, req CallRequest) (Envelope, error)
	Poll(ctx context.Context) (Envelope, error)
	Clear(ctx context.Context) error
}

type HTTPTransport struct {
	name     string
	resolver Resolver
	client   *http.Client
}

func NewHTTPTransport(name string, resolver Resolver, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		name:     name,
		resolver: resolver,
		client:   client,
	}
}

func (t *HTTPTransport) Send(ctx context.Context, req CallRequest) (envelope Envelope, err error) {
	body, err := json.Marshal(req)
	if err != nil {
		return
	}
	err = t.do(ctx, http.MethodPost, callPath, body, &envelope)
	return
}

func (t *HTTPTransport) Poll(ctx context.Context) (envelope Envelope, err error) {
	err = t.do(ctx, http.MethodGet, responsePath, nil, &envelope)
	return
}

func (t *HTTPTransport) Clear(ctx context.Context) error {
	return t.do(ctx, http.MethodGet, clearPath, nil, nil)
}

func (t *HTTPTransport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body []byte, out any) (err error) {
	base, err := t.resolver.Resolve(ctx)
	if err != nil {
		return
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("X-Client-Name", t.name)
	resp, err := t.client.Do(req)
	if err != nil {
		if stale, ok := t.resolver.(invalidator); ok && ctx.Err() == nil {
			stale.Invalidate()
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		closeErr := resp.Body.Close()
		if err == nil {
			err = closeErr
		}
	}()
	if resp.StatusCode >= 400 {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: server returned status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(message))
	}
	if out == nil {
		return
	}
	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		err = errorf(Protocol, err, "%s %s: malformed response", method, path)
	}
	return
}
