package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/model"
	"github.com/m-mizutani/practiq/pkg/usecase/practice"
	"github.com/m-mizutani/practiq/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const replHelp = `Type a topic to generate practice questions.
  :level <beginner|intermediate|expert>  change the expertise level
  :history                               list recent generations
  :load <n>                              show history entry n
  :clear                                 clear history
  :help                                  show this help
  :quit                                  exit`

func replCommand() *cli.Command {
	var cfg config

	var flags []cli.Flag
	flags = append(flags, logFlags(&cfg)...)
	flags = append(flags, clientFlags(&cfg)...)
	flags = append(flags, historyFlags(&cfg)...)

	return &cli.Command{
		Name:  "repl",
		Usage: "Interactive question generation",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = logging.With(ctx, cfg.newLogger(c.Root().ErrWriter))

			store, closeHistory, err := cfg.newHistory(ctx)
			if err != nil {
				return err
			}
			defer closeHistory()

			session := practice.New(cfg.newClient(), store)
			session.Init(ctx)
			session.SetLevel(cfg.parseLevel())

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          promptFor(session.State().Level),
				HistoryFile:     filepath.Join(os.TempDir(), "practiq_repl_history"),
				InterruptPrompt: "^C",
				EOFPrompt:       ":quit",
				Stdout:          c.Root().Writer,
				Stderr:          c.Root().ErrWriter,
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start readline")
			}
			defer rl.Close()

			fmt.Fprintln(c.Root().Writer, replHelp)

			r := &repl{
				session: session,
				out:     c.Root().Writer,
				printer: newPrinter(c.Root().Writer, c.Root().ErrWriter),
				onLevel: func(level model.ExpertiseLevel) { rl.SetPrompt(promptFor(level)) },
			}
			return r.run(ctx, rl)
		},
	}
}

func promptFor(level model.ExpertiseLevel) string {
	return fmt.Sprintf("practiq(%s)> ", level)
}

type lineReader interface {
	Readline() (string, error)
}

type repl struct {
	session *practice.Session
	out     io.Writer
	printer *printer
	onLevel func(model.ExpertiseLevel)
}

func (r *repl) run(ctx context.Context, lines lineReader) error {
	for {
		line, err := lines.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if line == "" {
					return nil
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return goerr.Wrap(err, "failed to read input")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ":") {
			quit, err := r.command(ctx, line)
			if err != nil {
				color.New(color.FgRed).Fprintf(r.out, "%s\n", err.Error())
			}
			if quit {
				return nil
			}
			continue
		}

		r.generate(ctx, line)
	}
}

func (r *repl) generate(ctx context.Context, topic string) {
	// Ctrl-C stops the generation, not the repl
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err := r.session.Generate(ctx, topic, r.session.State().Level, r.printer.render)
	r.printer.finish()
	if err != nil {
		logging.From(ctx).Debug("generation failed", "error", err)
		color.New(color.FgRed).Fprintf(r.out, "%s\n", practice.UserMessage(err))
	}
}

func (r *repl) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case ":quit", ":exit", ":q":
		return true, nil

	case ":help":
		fmt.Fprintln(r.out, replHelp)

	case ":level":
		if len(args) != 1 {
			return false, goerr.New("usage: :level <beginner|intermediate|expert>")
		}
		level := model.ExpertiseLevel(strings.ToLower(args[0]))
		if !level.Valid() {
			return false, goerr.New("unknown level: "+args[0], goerr.V("level", args[0]))
		}
		r.session.SetLevel(level)
		if r.onLevel != nil {
			r.onLevel(level)
		}
		fmt.Fprintf(r.out, "level set to %s\n", level)

	case ":history":
		printHistory(r.out, r.session.History())

	case ":load":
		if len(args) != 1 {
			return false, goerr.New("usage: :load <n>")
		}
		entry, err := resolveEntry(r.session.History(), args[0])
		if err != nil {
			return false, err
		}
		state, err := r.session.Load(ctx, entry.ID)
		if err != nil {
			return false, err
		}
		if r.onLevel != nil {
			r.onLevel(state.Level)
		}
		printResponse(r.out, state.Topic, state.Level.String(), state.Response)

	case ":clear":
		if err := r.session.ClearHistory(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "history cleared")

	default:
		return false, goerr.New("unknown command "+name+"; type :help", goerr.V("command", name))
	}

	return false, nil
}

// resolveEntry finds an entry by 1-based position or by ID
func resolveEntry(entries model.HistoryLog, arg string) (*model.HistoryEntry, error) {
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(entries) {
			return nil, goerr.New("no history entry at that position", goerr.V("n", n), goerr.V("size", len(entries)))
		}
		return entries[n-1], nil
	}

	entry := entries.Find(model.HistoryID(arg))
	if entry == nil {
		return nil, goerr.New("history entry not found", goerr.V("id", arg))
	}
	return entry, nil
}
