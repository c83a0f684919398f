package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/adapter"
	"github.com/m-mizutani/practiq/pkg/model"
	"github.com/m-mizutani/practiq/pkg/policy"
	"github.com/m-mizutani/practiq/pkg/prompt"
	"github.com/m-mizutani/practiq/pkg/utils/logging"
)

// GeneratePath is the endpoint served by the relay
const GeneratePath = "/api/generate"

const (
	// returned for any provider failure before the stream opens
	generationFailedMessage = "Failed to generate content"
	configurationMessage    = "GEMINI_API_KEY is not configured"
)

// ErrorResponse is the JSON body of a failed request
type ErrorResponse struct {
	Error string          `json:"error"`
	Kind  model.ErrorKind `json:"kind,omitempty"`
}

// Relay forwards provider fragments to the HTTP response as they arrive
type Relay struct {
	provider  adapter.Provider
	configErr error
	admission *policy.Admission
	now       func() time.Time
}

type Option func(*Relay)

// WithConfigurationError records why no provider is available. It is
// reported to callers in place of a generic message.
func WithConfigurationError(err error) Option {
	return func(r *Relay) {
		r.configErr = err
	}
}

// WithAdmission enables policy checks on incoming requests
func WithAdmission(adm *policy.Admission) Option {
	return func(r *Relay) {
		r.admission = adm
	}
}

// New creates a relay. provider may be nil when no credential is
// configured; every request is then rejected as a configuration error.
func New(provider adapter.Provider, opts ...Option) *Relay {
	r := &Relay{
		provider: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type event struct {
	text string
	err  error
}

// HandleGenerate serves POST /api/generate
func (r *Relay) HandleGenerate(c echo.Context) error {
	startTime := r.now()
	ctx := c.Request().Context()
	logger := logging.From(ctx)

	if r.provider == nil {
		err := r.configErr
		if err == nil {
			err = goerr.Wrap(model.ErrConfiguration, "no provider configured")
		}
		return r.reject(c, err, outcomeConfigError, configurationMessage)
	}

	var req model.GenerationRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return r.reject(c, goerr.Wrap(model.ErrValidation, "invalid request body", goerr.V("cause", err.Error())),
			outcomeInvalid, "Invalid request body")
	}
	if err := req.Validate(); err != nil {
		return r.reject(c, err, outcomeInvalid, model.TopicRequiredMessage)
	}

	if err := r.admission.Check(ctx, &req); err != nil {
		var denial *policy.Denial
		if errors.Is(err, model.ErrValidation) && errors.As(err, &denial) {
			return r.reject(c, err, outcomeDenied, denial.Message())
		}
		return r.reject(c, goerr.Wrap(err, "failed to check admission policy"), outcomeUpstreamError, generationFailedMessage)
	}

	level := req.Level()
	logger = logger.With("topic", req.Topic, "level", level)
	logger.Info("generation request received")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := r.produce(ctx, prompt.Build(req.Topic, level))

	first, ok := <-events
	if ok && first.err != nil {
		return r.reject(c, goerr.Wrap(first.err, "provider failed before the first fragment"),
			outcomeUpstreamError, generationFailedMessage)
	}

	setStreamingHeaders(c)
	firstFragmentSeconds.Observe(r.now().Sub(startTime).Seconds())

	if !ok {
		logger.Warn("provider stream ended without fragments")
		requestsTotal.WithLabelValues(outcomeSuccess).Inc()
		return nil
	}

	fragments, bytesWritten := 0, 0
	for ev := range merge(first, events) {
		if ev.err != nil {
			logger.Error("provider failed mid-stream, aborting response",
				"error", ev.err,
				"fragments", fragments,
				"bytes_written", bytesWritten)
			requestsTotal.WithLabelValues(outcomeStreamAborted).Inc()
			// Abort without the terminating chunk so the client sees a broken stream
			panic(http.ErrAbortHandler)
		}

		n, err := io.WriteString(c.Response(), ev.text)
		if err != nil {
			logger.Warn("client went away", "error", err, "bytes_written", bytesWritten)
			requestsTotal.WithLabelValues(outcomeClientGone).Inc()
			return nil
		}
		c.Response().Flush()

		fragments++
		bytesWritten += n
		fragmentsTotal.Inc()
		streamedBytesTotal.Add(float64(n))
	}

	logger.Info("generation completed",
		"fragments", fragments,
		"bytes_written", bytesWritten,
		"duration_ms", r.now().Sub(startTime).Milliseconds())
	requestsTotal.WithLabelValues(outcomeSuccess).Inc()
	return nil
}

// produce runs the provider iterator on its own goroutine and hands each
// fragment over the returned channel. The channel is closed after the last
// fragment, after the first error, or when ctx is done.
func (r *Relay) produce(ctx context.Context, promptText string) <-chan event {
	events := make(chan event)

	go func() {
		defer close(events)

		for text, err := range r.provider.GenerateStream(ctx, promptText) {
			if err == nil && text == "" {
				continue
			}

			select {
			case events <- event{text: text, err: err}:
			case <-ctx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()

	return events
}

// merge yields head and then everything remaining on rest
func merge(head event, rest <-chan event) iter.Seq[event] {
	return func(yield func(event) bool) {
		if !yield(head) {
			return
		}
		for ev := range rest {
			if !yield(ev) {
				return
			}
		}
	}
}

func (r *Relay) reject(c echo.Context, err error, outcome, msg string) error {
	logger := logging.From(c.Request().Context())
	requestsTotal.WithLabelValues(outcome).Inc()

	switch {
	case errors.Is(err, model.ErrConfiguration):
		logger.Error("relay is not configured", "error", err)
	case errors.Is(err, model.ErrValidation):
		logger.Warn("generation request rejected", "error", err)
	default:
		logger.Error("generation failed", "error", err)
	}

	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: msg,
		Kind:  model.ErrorKindOf(err),
	})
}

func setStreamingHeaders(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set(echo.HeaderXContentTypeOptions, "nosniff")
	c.Response().WriteHeader(http.StatusOK)
}
