package cli

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/usecase/practice"
	"github.com/m-mizutani/practiq/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func generateCommand() *cli.Command {
	var cfg config

	var flags []cli.Flag
	flags = append(flags, logFlags(&cfg)...)
	flags = append(flags, clientFlags(&cfg)...)
	flags = append(flags, historyFlags(&cfg)...)

	return &cli.Command{
		Name:      "generate",
		Aliases:   []string{"gen"},
		Usage:     "Generate practice questions for a topic",
		ArgsUsage: "<topic>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = logging.With(ctx, cfg.newLogger(c.Root().ErrWriter))
			topic := strings.Join(c.Args().Slice(), " ")

			store, closeHistory, err := cfg.newHistory(ctx)
			if err != nil {
				return err
			}
			defer closeHistory()

			session := practice.New(cfg.newClient(), store)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			p := newPrinter(c.Root().Writer, c.Root().ErrWriter)
			err = session.Generate(ctx, topic, cfg.parseLevel(), p.render)
			p.finish()
			if err != nil {
				return goerr.Wrap(err, "generation failed", goerr.V("topic", topic))
			}

			if session.State().Saved {
				color.New(color.FgGreen).Fprintf(c.Root().ErrWriter, "✓ saved to history\n")
			}
			return nil
		},
	}
}
