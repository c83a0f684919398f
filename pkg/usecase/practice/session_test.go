package practice_test

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/practiq/pkg/client"
	"github.com/m-mizutani/practiq/pkg/model"
	"github.com/m-mizutani/practiq/pkg/repository"
	"github.com/m-mizutani/practiq/pkg/service/relay"
	"github.com/m-mizutani/practiq/pkg/usecase/history"
	"github.com/m-mizutani/practiq/pkg/usecase/practice"
	"github.com/m-mizutani/practiq/pkg/utils/logging"
)

type fragmentsProvider struct {
	fragments []string
	err       error
	calls     atomic.Int32
}

func (p *fragmentsProvider) GenerateStream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	p.calls.Add(1)
	return func(yield func(string, error) bool) {
		for _, f := range p.fragments {
			if !yield(f, nil) {
				return
			}
		}
		if p.err != nil {
			yield("", p.err)
		}
	}
}

func newSession(t *testing.T, provider *fragmentsProvider) (*practice.Session, *history.Store) {
	t.Helper()
	srv := httptest.NewServer(relay.NewServer(relay.New(provider), logging.New("error", io.Discard)))
	t.Cleanup(srv.Close)

	store := history.New(repository.NewMemory())
	return practice.New(client.New(srv.URL), store), store
}

func TestSessionScenarioAppendsHistory(t *testing.T) {
	ctx := context.Background()
	provider := &fragmentsProvider{fragments: []string{"Q1: What is a BST?\n", "A1: A binary tree where..."}}
	session, _ := newSession(t, provider)
	session.Init(ctx)

	var renders []practice.State
	err := session.Generate(ctx, "binary search trees", model.LevelBeginner, func(s practice.State) {
		renders = append(renders, s)
	})
	gt.NoError(t, err)

	gt.A(t, renders).Longer(1)
	gt.Equal(t, renders[0].Response, "")
	gt.True(t, renders[0].Loading)

	state := session.State()
	gt.False(t, state.Loading)
	gt.Equal(t, state.Error, "")
	gt.Equal(t, state.Response, "Q1: What is a BST?\nA1: A binary tree where...")

	entries := session.History()
	gt.A(t, entries).Length(1)
	gt.Equal(t, entries[0].Topic, "binary search trees")
	gt.Equal(t, entries[0].ExpertiseLevel, model.LevelBeginner)
	gt.Equal(t, entries[0].Response, state.Response)
}

func TestSessionEmptyTopicSendsNoRequest(t *testing.T) {
	provider := &fragmentsProvider{fragments: []string{"x"}}
	session, _ := newSession(t, provider)

	err := session.Generate(context.Background(), "   ", model.LevelExpert, nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrValidation))
	gt.Equal(t, session.State().Error, model.TopicRequiredMessage)
	gt.Equal(t, provider.calls.Load(), int32(0))
	gt.A(t, session.History()).Length(0)
}

func TestSessionFailureKeepsPartialWithoutHistory(t *testing.T) {
	ctx := context.Background()
	provider := &fragmentsProvider{
		fragments: []string{"first ", "second"},
		err:       goerr.New("quota exceeded"),
	}
	session, store := newSession(t, provider)

	err := session.Generate(ctx, "graphs", model.LevelIntermediate, nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrUpstream))

	state := session.State()
	gt.Equal(t, state.Response, "first second")
	gt.False(t, state.Loading)
	gt.Equal(t, state.Error, practice.UserMessage(err))
	gt.A(t, store.List(ctx)).Length(0)
}

func TestSessionPreStreamFailureMessage(t *testing.T) {
	provider := &fragmentsProvider{err: goerr.New("backend down")}
	session, _ := newSession(t, provider)

	err := session.Generate(context.Background(), "graphs", model.LevelIntermediate, nil)
	gt.Error(t, err)
	gt.Equal(t, session.State().Error, "Failed to generate content")
	gt.Equal(t, session.State().Response, "")
}

// scriptedGenerator emits updates from a channel until it is closed or the
// context is done
type scriptedGenerator struct {
	mu      sync.Mutex
	scripts []chan string
}

func (g *scriptedGenerator) add() chan string {
	ch := make(chan string)
	g.mu.Lock()
	g.scripts = append(g.scripts, ch)
	g.mu.Unlock()
	return ch
}

func (g *scriptedGenerator) Generate(ctx context.Context, req *model.GenerationRequest, onUpdate client.UpdateFunc) (string, error) {
	g.mu.Lock()
	ch := g.scripts[0]
	g.scripts = g.scripts[1:]
	g.mu.Unlock()

	var acc strings.Builder
	for {
		select {
		case <-ctx.Done():
			// a late update after cancellation must be ignored by the session
			onUpdate(acc.String() + " (late)")
			return acc.String(), goerr.Wrap(ctx.Err(), "generation cancelled")
		case text, ok := <-ch:
			if !ok {
				return acc.String(), nil
			}
			acc.WriteString(text)
			onUpdate(acc.String())
		}
	}
}

func TestSessionSecondGenerationResets(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{}
	first := gen.add()
	second := gen.add()
	session := practice.New(gen, history.New(repository.NewMemory()))

	var mu sync.Mutex
	var renders []practice.State
	render := func(s practice.State) {
		mu.Lock()
		renders = append(renders, s)
		mu.Unlock()
	}

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- session.Generate(ctx, "old topic", model.LevelBeginner, render)
	}()
	first <- "old content"

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- session.Generate(ctx, "new topic", model.LevelExpert, render)
	}()

	select {
	case err := <-firstDone:
		gt.Error(t, err)
		gt.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("first generation was not cancelled")
	}

	second <- "new"
	second <- " content"
	close(second)
	gt.NoError(t, <-secondDone)

	mu.Lock()
	defer mu.Unlock()

	resetAt := -1
	for i, s := range renders {
		if s.Topic == "new topic" {
			resetAt = i
			break
		}
	}
	gt.True(t, resetAt >= 0)
	gt.Equal(t, renders[resetAt].Response, "")
	for _, s := range renders[resetAt:] {
		gt.False(t, strings.Contains(s.Response, "old"))
		gt.Equal(t, s.Topic, "new topic")
	}

	state := session.State()
	gt.Equal(t, state.Response, "new content")
	gt.Equal(t, state.Error, "")

	entries := session.History()
	gt.A(t, entries).Length(1)
	gt.Equal(t, entries[0].Topic, "new topic")
}

func TestSessionLoadAndClear(t *testing.T) {
	ctx := context.Background()
	store := history.New(repository.NewMemory())
	entry, err := store.Append(ctx, "heaps", "Q1: ...", model.LevelExpert)
	gt.NoError(t, err)

	session := practice.New(&scriptedGenerator{}, store)
	session.Init(ctx)
	gt.A(t, session.History()).Length(1)

	state, err := session.Load(ctx, entry.ID)
	gt.NoError(t, err)
	gt.Equal(t, state.Topic, "heaps")
	gt.Equal(t, state.Response, "Q1: ...")
	gt.Equal(t, state.Level, model.LevelExpert)

	_, err = session.Load(ctx, model.HistoryID("missing"))
	gt.Error(t, err)

	gt.NoError(t, session.ClearHistory(ctx))
	gt.A(t, session.History()).Length(0)
	gt.A(t, store.List(ctx)).Length(0)
}

func TestUserMessage(t *testing.T) {
	gt.Equal(t, practice.UserMessage(nil), "")
	gt.Equal(t, practice.UserMessage(goerr.Wrap(model.ErrValidation, "bad")), model.TopicRequiredMessage)
	gt.Equal(t, practice.UserMessage(goerr.Wrap(&client.StatusError{StatusCode: 500, Message: "boom"}, "x")), "boom")
	gt.Equal(t, practice.UserMessage(goerr.Wrap(context.Canceled, "x")), "Generation cancelled")
	gt.Equal(t, practice.UserMessage(goerr.Wrap(errors.Join(model.ErrTransport, io.EOF), "x")), "Failed to reach the generation service")
	gt.Equal(t, practice.UserMessage(goerr.Wrap(errors.Join(model.ErrUpstream, io.ErrUnexpectedEOF), "x")), "Generation was interrupted before it completed")
	gt.Equal(t, practice.UserMessage(goerr.New("other")), "An error occurred")
	gt.Equal(t, practice.UserMessage(goerr.Wrap(errors.Join(model.ErrHistoryWrite, io.EOF), "x")),
		"Questions were generated but could not be saved to history")

	denied := &client.StatusError{StatusCode: 500, Message: "topic is not allowed", Kind: model.ErrorKindValidation}
	gt.True(t, errors.Is(denied, model.ErrValidation))
	gt.Equal(t, practice.UserMessage(goerr.Wrap(denied, "x")), "topic is not allowed")
}

// failingKV rejects every write
type failingKV struct {
	repository.KeyValue
	err error
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	return f.err
}

func TestSessionHistoryWriteFailure(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(relay.NewServer(
		relay.New(&fragmentsProvider{fragments: []string{"Q1: ", "stacks"}}),
		logging.New("error", io.Discard)))
	t.Cleanup(srv.Close)

	store := history.New(&failingKV{KeyValue: repository.NewMemory(), err: goerr.New("connection refused")})
	session := practice.New(client.New(srv.URL), store)

	err := session.Generate(ctx, "stacks", model.LevelBeginner, nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrHistoryWrite))

	state := session.State()
	gt.Equal(t, state.Response, "Q1: stacks")
	gt.False(t, state.Saved)
	gt.False(t, state.Loading)
	gt.Equal(t, state.Error, "Questions were generated but could not be saved to history")
	gt.A(t, session.History()).Length(0)
}

func TestSessionSavedFlag(t *testing.T) {
	ctx := context.Background()
	provider := &fragmentsProvider{fragments: []string{"done"}}

	t.Run("stored", func(t *testing.T) {
		session, _ := newSession(t, provider)
		gt.NoError(t, session.Generate(ctx, "queues", model.LevelBeginner, nil))
		gt.True(t, session.State().Saved)
	})

	t.Run("history disabled", func(t *testing.T) {
		srv := httptest.NewServer(relay.NewServer(relay.New(provider), logging.New("error", io.Discard)))
		t.Cleanup(srv.Close)

		session := practice.New(client.New(srv.URL), history.New(nil))
		gt.NoError(t, session.Generate(ctx, "queues", model.LevelBeginner, nil))
		gt.False(t, session.State().Saved)
		gt.Equal(t, session.State().Response, "done")
	})
}

func TestSessionCancel(t *testing.T) {
	gen := &scriptedGenerator{}
	script := gen.add()
	session := practice.New(gen, history.New(repository.NewMemory()))

	done := make(chan error, 1)
	go func() {
		done <- session.Generate(context.Background(), "tries", model.LevelExpert, nil)
	}()
	script <- "partial"

	session.Cancel()

	select {
	case err := <-done:
		gt.Error(t, err)
		gt.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("generation was not cancelled")
	}

	state := session.State()
	gt.Equal(t, state.Response, "partial")
	gt.Equal(t, state.Error, "Generation cancelled")
	gt.False(t, state.Loading)
	gt.A(t, session.History()).Length(0)
}
