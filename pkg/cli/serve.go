package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/adapter"
	"github.com/m-mizutani/practiq/pkg/model"
	"github.com/m-mizutani/practiq/pkg/policy"
	"github.com/m-mizutani/practiq/pkg/service/relay"
	"github.com/m-mizutani/practiq/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var cfg config

	var flags []cli.Flag
	flags = append(flags, logFlags(&cfg)...)
	flags = append(flags, serverFlags(&cfg)...)
	flags = append(flags, geminiFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the generation relay",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := cfg.newLogger(os.Stderr)
			logging.SetDefault(logger)
			ctx = logging.With(ctx, logger)

			r, err := newRelay(ctx, &cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return relay.Serve(ctx, relay.NewServer(r, logger), cfg.addr)
		},
	}
}

// newRelay wires the provider and admission policy. A missing credential
// does not stop the server; every request then fails with a configuration
// error.
func newRelay(ctx context.Context, cfg *config) (*relay.Relay, error) {
	logger := logging.From(ctx)

	var (
		provider adapter.Provider
		opts     []relay.Option
	)

	gemini, err := cfg.newGemini(ctx)
	switch {
	case err == nil:
		provider = gemini
	case errors.Is(err, model.ErrConfiguration):
		logger.Warn("generation provider is not configured", "error", err)
		opts = append(opts, relay.WithConfigurationError(err))
	default:
		return nil, err
	}

	if cfg.policyDir != "" {
		adm, err := policy.Load(ctx, cfg.policyDir)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load admission policy", goerr.V("dir", cfg.policyDir))
		}
		if adm != nil {
			logger.Info("admission policy loaded", "dir", cfg.policyDir)
			opts = append(opts, relay.WithAdmission(adm))
		}
	}

	return relay.New(provider, opts...), nil
}
