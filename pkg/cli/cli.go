package cli

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/m-mizutani/practiq/pkg/model"
	"github.com/m-mizutani/practiq/pkg/usecase/practice"
	"github.com/m-mizutani/practiq/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Default().Warn("failed to load .env", "error", err)
	}

	cmd := newApp()
	if err := cmd.Run(ctx, argv); err != nil {
		msg := userMessage(err)
		logging.Default().Debug("command failed", "error", err)
		color.New(color.FgRed).Fprintf(cmd.ErrWriter, "Error: %s\n", msg)
		return &Error{
			Code:    1,
			Message: msg,
		}
	}

	return nil
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:      "practiq",
		Usage:     "Generate practice questions with streamed AI answers",
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Commands: []*cli.Command{
			serveCommand(),
			generateCommand(),
			replCommand(),
			historyCommand(),
		},
	}
}

// userMessage picks the single message shown for a failed command
func userMessage(err error) string {
	for _, class := range []error{
		model.ErrHistoryWrite,
		model.ErrConfiguration,
		model.ErrValidation,
		model.ErrUpstream,
		model.ErrTransport,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, class) {
			return practice.UserMessage(err)
		}
	}
	return err.Error()
}
