package practice

import (
	"context"
	"errors"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/client"
	"github.com/m-mizutani/practiq/pkg/model"
	"github.com/m-mizutani/practiq/pkg/usecase/history"
	"github.com/m-mizutani/practiq/pkg/utils/logging"
)

// Generator streams one generation. *client.Client implements it.
type Generator interface {
	Generate(ctx context.Context, req *model.GenerationRequest, onUpdate client.UpdateFunc) (string, error)
}

// State is what a front end renders
type State struct {
	Topic    string
	Level    model.ExpertiseLevel
	Response string
	Loading  bool
	Error    string

	// Saved is set once the completed response is stored in history
	Saved bool
}

// RenderFunc receives a state snapshot. It must not start a new generation.
type RenderFunc func(State)

// Session holds the state of one interactive front end. Starting a
// generation cancels the previous one and discards its late updates.
type Session struct {
	gen     Generator
	history *history.Store

	// renderMu orders resets and renders so a stale update can never be
	// rendered after a newer generation has reset the response
	renderMu sync.Mutex

	mu         sync.Mutex
	state      State
	generation uint64
	cancel     context.CancelFunc
	entries    model.HistoryLog
}

func New(gen Generator, store *history.Store) *Session {
	return &Session{
		gen:     gen,
		history: store,
		state:   State{Level: model.DefaultLevel},
	}
}

// Init loads the stored history
func (s *Session) Init(ctx context.Context) {
	s.refreshHistory(ctx)
}

// State returns a snapshot of the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns the cached history log
func (s *Session) History() model.HistoryLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries
}

// SetLevel changes the level used by the next generation
func (s *Session) SetLevel(level model.ExpertiseLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Level = level.OrDefault()
}

// Generate runs one generation and appends it to history on success. An
// empty topic is rejected without any request.
func (s *Session) Generate(ctx context.Context, topic string, level model.ExpertiseLevel, render RenderFunc) error {
	logger := logging.From(ctx)

	req := &model.GenerationRequest{Topic: topic, ExpertiseLevel: level}
	if err := req.Validate(); err != nil {
		s.mu.Lock()
		s.state.Error = UserMessage(err)
		snapshot := s.state
		s.mu.Unlock()
		if render != nil {
			render(snapshot)
		}
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gen, snapshot := s.start(topic, req.Level(), cancel)
	if render != nil {
		render(snapshot)
	}
	defer s.finish(gen, render)

	text, err := s.gen.Generate(ctx, req, func(text string) {
		s.renderMu.Lock()
		defer s.renderMu.Unlock()

		s.mu.Lock()
		if s.generation != gen || ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		s.state.Response = text
		snapshot := s.state
		s.mu.Unlock()

		if render != nil {
			render(snapshot)
		}
	})
	if err != nil {
		s.mu.Lock()
		if s.generation == gen {
			s.state.Error = UserMessage(err)
		}
		s.mu.Unlock()
		logger.Debug("generation failed", "error", err, "received", len(text))
		return err
	}

	entry, err := s.history.Append(ctx, topic, text, req.Level())
	if err != nil {
		err = goerr.Wrap(errors.Join(model.ErrHistoryWrite, err), "failed to save generation to history",
			goerr.V("topic", topic))
		s.mu.Lock()
		if s.generation == gen {
			s.state.Error = UserMessage(err)
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.generation == gen {
		s.state.Saved = entry != nil
	}
	s.mu.Unlock()
	s.refreshHistory(ctx)

	return nil
}

func (s *Session) start(topic string, level model.ExpertiseLevel, cancel context.CancelFunc) (uint64, State) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	s.cancel = cancel
	s.state = State{
		Topic:   topic,
		Level:   level,
		Loading: true,
	}
	return s.generation, s.state
}

func (s *Session) finish(gen uint64, render RenderFunc) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state.Loading = false
	s.cancel = nil
	snapshot := s.state
	s.mu.Unlock()

	if render != nil {
		render(snapshot)
	}
}

// Cancel stops the in-flight generation, if any
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// ClearHistory removes all stored entries
func (s *Session) ClearHistory(ctx context.Context) error {
	if err := s.history.Clear(ctx); err != nil {
		return goerr.Wrap(err, "failed to clear history")
	}

	s.mu.Lock()
	s.entries = model.HistoryLog{}
	s.mu.Unlock()
	return nil
}

// Load restores topic, response and level from a history entry
func (s *Session) Load(ctx context.Context, id model.HistoryID) (State, error) {
	entry := s.history.Get(ctx, id)
	if entry == nil {
		return State{}, goerr.New("history entry not found", goerr.V("id", id))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Topic = entry.Topic
	s.state.Response = entry.Response
	s.state.Error = ""
	if entry.ExpertiseLevel.Valid() {
		s.state.Level = entry.ExpertiseLevel
	}
	return s.state, nil
}

func (s *Session) refreshHistory(ctx context.Context) {
	entries := s.history.List(ctx)
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
}

// UserMessage converts a generation error into the single message shown to
// the user
func UserMessage(err error) string {
	var statusErr *client.StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrHistoryWrite):
		return "Questions were generated but could not be saved to history"
	case errors.As(err, &statusErr):
		return statusErr.Message
	case errors.Is(err, model.ErrValidation):
		return model.TopicRequiredMessage
	case errors.Is(err, context.Canceled):
		return "Generation cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Generation timed out"
	case errors.Is(err, model.ErrTransport):
		return "Failed to reach the generation service"
	case errors.Is(err, model.ErrUpstream):
		return "Generation was interrupted before it completed"
	default:
		return "An error occurred"
	}
}
