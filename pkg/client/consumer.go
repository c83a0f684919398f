package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/model"
	"github.com/m-mizutani/practiq/pkg/utils/logging"
)

const (
	defaultBufferSize = 4096
	generatePath      = "/api/generate"

	// limit for reading an error body
	maxErrorBodySize = 64 * 1024
)

// UpdateFunc receives the running text after each chunk. Values only grow.
type UpdateFunc func(text string)

// Client talks to the relay and consumes its streamed response
type Client struct {
	baseURL    string
	httpClient *http.Client
	bufSize    int
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithBufferSize sets the read size per chunk
func WithBufferSize(n int) Option {
	return func(client *Client) {
		if n > 0 {
			client.bufSize = n
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		bufSize:    defaultBufferSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type errorResponse struct {
	Error string          `json:"error"`
	Kind  model.ErrorKind `json:"kind"`
}

// Generate requests a generation and streams it into onUpdate. It returns the
// complete text on success. On failure it returns whatever text was received
// together with a single terminal error; onUpdate is never called after ctx
// is done.
func (c *Client) Generate(ctx context.Context, req *model.GenerationRequest, onUpdate UpdateFunc) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	body, err := json.Marshal(model.GenerationRequest{
		Topic:          req.Topic,
		ExpertiseLevel: req.Level(),
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal generation request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return "", goerr.Wrap(errors.Join(model.ErrTransport, err), "failed to create request", goerr.V("url", c.baseURL))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/plain")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", goerr.Wrap(ctxErr, "generation cancelled")
		}
		return "", goerr.Wrap(errors.Join(model.ErrTransport, err), "failed to reach relay", goerr.V("url", c.baseURL))
	}
	if resp.Body == nil {
		return "", goerr.Wrap(model.ErrTransport, "stream not available")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	return c.Consume(ctx, resp.Body, onUpdate)
}

// Consume reads r to the end, decoding incrementally and publishing the
// running text after each chunk.
func (c *Client) Consume(ctx context.Context, r io.Reader, onUpdate UpdateFunc) (string, error) {
	logger := logging.From(ctx)
	dec := NewDecoder()
	buf := make([]byte, c.bufSize)

	var acc strings.Builder
	publish := func(text string) error {
		if text == "" {
			return nil
		}
		acc.WriteString(text)
		if err := ctx.Err(); err != nil {
			return err
		}
		if onUpdate != nil {
			onUpdate(acc.String())
		}
		return nil
	}

	chunks := 0
	for {
		if err := ctx.Err(); err != nil {
			return acc.String(), goerr.Wrap(err, "generation cancelled")
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			chunks++
			if err := publish(dec.Decode(buf[:n], false)); err != nil {
				return acc.String(), goerr.Wrap(err, "generation cancelled")
			}
		}

		if readErr == nil {
			continue
		}

		if errors.Is(readErr, io.EOF) {
			if err := publish(dec.Decode(nil, true)); err != nil {
				return acc.String(), goerr.Wrap(err, "generation cancelled")
			}
			logger.Debug("stream completed", "chunks", chunks, "length", acc.Len())
			return acc.String(), nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return acc.String(), goerr.Wrap(ctxErr, "generation cancelled")
		}
		return acc.String(), goerr.Wrap(errors.Join(model.ErrUpstream, readErr),
			"stream terminated unexpectedly",
			goerr.V("chunks", chunks),
			goerr.V("received", acc.Len()))
	}
}

// StatusError is returned when the relay answers with a non-200 status
// before streaming. It unwraps to the class named by Kind:
// model.ErrConfiguration, model.ErrValidation or, for anything else,
// model.ErrUpstream.
type StatusError struct {
	StatusCode int
	Message    string
	Kind       model.ErrorKind
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay returned status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Kind.Err()
}

func statusError(resp *http.Response) error {
	statusErr := &StatusError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err == nil {
		var body errorResponse
		if json.Unmarshal(data, &body) == nil && body.Error != "" {
			statusErr.Message = body.Error
			statusErr.Kind = body.Kind
		}
	}

	return goerr.Wrap(statusErr, "generation request failed")
}
