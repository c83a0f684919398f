package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/model"
	"github.com/m-mizutani/practiq/pkg/usecase/history"
	"github.com/m-mizutani/practiq/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	var cfg config

	var flags []cli.Flag
	flags = append(flags, logFlags(&cfg)...)
	flags = append(flags, historyFlags(&cfg)...)

	// withStore opens the history backend for the duration of a subcommand
	withStore := func(fn func(ctx context.Context, c *cli.Command, store *history.Store) error) cli.ActionFunc {
		return func(ctx context.Context, c *cli.Command) error {
			ctx = logging.With(ctx, cfg.newLogger(c.Root().ErrWriter))
			store, closeHistory, err := cfg.newHistory(ctx)
			if err != nil {
				return err
			}
			defer closeHistory()
			return fn(ctx, c, store)
		}
	}

	return &cli.Command{
		Name:  "history",
		Usage: "Manage recent generations",
		Flags: flags,
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent generations, most recent first",
				Action: withStore(func(ctx context.Context, c *cli.Command, store *history.Store) error {
					printHistory(c.Root().Writer, store.List(ctx))
					return nil
				}),
			},
			{
				Name:      "show",
				Usage:     "Show a stored generation",
				ArgsUsage: "<n|id>",
				Action: withStore(func(ctx context.Context, c *cli.Command, store *history.Store) error {
					if c.Args().Len() != 1 {
						return goerr.New("history show requires exactly one argument")
					}
					entry, err := resolveEntry(store.List(ctx), c.Args().First())
					if err != nil {
						return err
					}
					printResponse(c.Root().Writer, entry.Topic, entry.ExpertiseLevel.OrDefault().String(), entry.Response)
					return nil
				}),
			},
			{
				Name:  "clear",
				Usage: "Remove all stored generations",
				Action: withStore(func(ctx context.Context, c *cli.Command, store *history.Store) error {
					if err := store.Clear(ctx); err != nil {
						return goerr.Wrap(err, "failed to clear history")
					}
					fmt.Fprintln(c.Root().Writer, "history cleared")
					return nil
				}),
			},
		},
	}
}

func printHistory(w io.Writer, entries model.HistoryLog) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history yet")
		return
	}

	dim := color.New(color.FgHiBlack)
	for i, e := range entries {
		fmt.Fprintf(w, "%2d  %s  %-12s  %s  ",
			i+1,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.ExpertiseLevel.OrDefault(),
			e.Topic,
		)
		dim.Fprintf(w, "%s\n", e.ID)
	}
}
