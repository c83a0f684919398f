package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/practiq/pkg/adapter"
	"github.com/m-mizutani/practiq/pkg/client"
	"github.com/m-mizutani/practiq/pkg/model"
	"github.com/m-mizutani/practiq/pkg/repository"
	"github.com/m-mizutani/practiq/pkg/usecase/history"
	"github.com/m-mizutani/practiq/pkg/utils/logging"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
)

const (
	backendBolt      = "bolt"
	backendMemory    = "memory"
	backendRedis     = "redis"
	backendFirestore = "firestore"
	backendGCS       = "gcs"
	backendNone      = "none"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Gemini
	geminiAPIKey   string
	geminiProject  string
	geminiLocation string
	geminiModel       string
	geminiTemperature float64

	// Relay
	addr      string
	policyDir string

	// Client
	url     string
	level   string
	timeout time.Duration

	// History
	historyBackend string
	historyPath    string
	redisAddr      string
	project        string
	database       string
	bucket         string
}

func logFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("PRACTIQ_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("PRACTIQ_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// geminiFlags returns flags for the generation provider
func geminiFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini on Vertex AI",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini on Vertex AI",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.FloatFlag{
			Name:        "gemini-temperature",
			Usage:       "Sampling temperature; negative uses the model default",
			Value:       -1,
			Sources:     cli.EnvVars("GEMINI_TEMPERATURE"),
			Destination: &cfg.geminiTemperature,
		},
	}
}

func serverFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "Listen address of the relay",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("PRACTIQ_ADDR"),
			Destination: &cfg.addr,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego files for topic admission",
			Sources:     cli.EnvVars("PRACTIQ_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

func clientFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "url",
			Aliases:     []string{"u"},
			Usage:       "Base URL of the relay",
			Value:       "http://127.0.0.1:8080",
			Sources:     cli.EnvVars("PRACTIQ_URL"),
			Destination: &cfg.url,
		},
		&cli.StringFlag{
			Name:        "level",
			Aliases:     []string{"l"},
			Usage:       "Expertise level (beginner, intermediate, expert)",
			Value:       string(model.DefaultLevel),
			Sources:     cli.EnvVars("PRACTIQ_LEVEL"),
			Destination: &cfg.level,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "Limit for a whole generation including streaming; 0 disables it",
			Value:       5 * time.Minute,
			Sources:     cli.EnvVars("PRACTIQ_TIMEOUT"),
			Destination: &cfg.timeout,
		},
	}
}

// historyFlags returns flags selecting where the history log is kept
func historyFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "history-backend",
			Usage:       "History backend (bolt, memory, redis, firestore, gcs, none)",
			Value:       backendBolt,
			Sources:     cli.EnvVars("PRACTIQ_HISTORY_BACKEND"),
			Destination: &cfg.historyBackend,
		},
		&cli.StringFlag{
			Name:        "history-path",
			Usage:       "Path of the bolt database file",
			Sources:     cli.EnvVars("PRACTIQ_HISTORY_PATH"),
			Destination: &cfg.historyPath,
		},
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Redis address for the redis backend",
			Value:       "127.0.0.1:6379",
			Sources:     cli.EnvVars("PRACTIQ_REDIS_ADDR"),
			Destination: &cfg.redisAddr,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for the firestore backend",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for the gcs backend",
			Sources:     cli.EnvVars("PRACTIQ_BUCKET"),
			Destination: &cfg.bucket,
		},
	}
}

// newLogger builds the logger for a command. Client commands log to stderr so
// generated text on stdout stays clean.
func (cfg *config) newLogger(w io.Writer) *slog.Logger {
	return logging.New(cfg.logLevel, w, logging.WithFormat(cfg.logFormat))
}

// newGemini creates a Gemini client. The returned error is classified as
// model.ErrConfiguration when no credential is set.
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	gemini, err := adapter.NewGemini(ctx, adapter.GeminiConfig{
		APIKey:   cfg.geminiAPIKey,
		Project:  cfg.geminiProject,
		Location: cfg.geminiLocation,
	}, cfg.geminiOptions()...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return gemini, nil
}

func (cfg *config) geminiOptions() []adapter.GeminiOption {
	var opts []adapter.GeminiOption
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
	}
	if cfg.geminiTemperature >= 0 {
		opts = append(opts, adapter.WithTemperature(float32(cfg.geminiTemperature)))
	}
	return opts
}

// newClient returns a relay client bounded by the configured timeout
func (cfg *config) newClient() *client.Client {
	return client.New(cfg.url, client.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
}

func (cfg *config) parseLevel() model.ExpertiseLevel {
	return model.ParseExpertiseLevel(cfg.level)
}

// newHistory opens the configured backend. The returned closer must be called
// when the command ends.
func (cfg *config) newHistory(ctx context.Context) (*history.Store, func(), error) {
	nop := func() {}

	kv, closer, err := cfg.newKeyValue(ctx)
	if errors.Is(err, model.ErrStorageUnavailable) {
		logging.From(ctx).Warn("history storage unavailable, history is disabled", "error", err)
		return history.New(nil), nop, nil
	}
	if err != nil {
		return nil, nop, err
	}
	if closer == nil {
		closer = nop
	}
	return history.New(kv), closer, nil
}

func (cfg *config) newKeyValue(ctx context.Context) (repository.KeyValue, func(), error) {
	logger := logging.From(ctx)

	switch cfg.historyBackend {
	case backendBolt, "":
		path := cfg.historyPath
		if path == "" {
			path = defaultHistoryPath()
		}
		db, err := repository.NewBolt(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("history backend", "backend", backendBolt, "path", path)
		return db, func() { safeClose(ctx, db) }, nil

	case backendMemory:
		return repository.NewMemory(), nil, nil

	case backendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		return repository.NewRedis(rdb), func() { safeClose(ctx, rdb) }, nil

	case backendFirestore:
		fs, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() { safeClose(ctx, fs) }, nil

	case backendGCS:
		if cfg.bucket == "" {
			return nil, nil, goerr.Wrap(model.ErrConfiguration, "bucket is required for the gcs backend")
		}
		storage, err := adapter.NewStorage(ctx, cfg.bucket)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create storage")
		}
		return repository.NewObjectStore(storage, "practiq"), nil, nil

	case backendNone:
		return nil, nil, nil

	default:
		return nil, nil, goerr.Wrap(model.ErrConfiguration, "unknown history backend",
			goerr.V("backend", cfg.historyBackend))
	}
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "practiq", "history.db")
}

func safeClose(ctx context.Context, c io.Closer) {
	if err := c.Close(); err != nil {
		logging.From(ctx).Warn("failed to close", "error", err)
	}
}
