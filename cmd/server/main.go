package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/pflag"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Tyrowin/digestchat/internal/history"
	"github.com/Tyrowin/digestchat/internal/retrieval"
	"github.com/Tyrowin/digestchat/internal/server"
	"github.com/Tyrowin/digestchat/internal/summarizer"
)

// connectTimeout bounds backend connection and schema setup at startup.
const connectTimeout = 15 * time.Second

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := server.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	logger.Info("starting digestchat server",
		"history", cfg.History.Backend,
		"summarizer", cfg.Summarizer.Backend,
		"replay_mode", cfg.ReplayMode)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	store, err := openStore(ctx, cfg.History)
	if err == nil {
		err = store.EnsureSchema(ctx)
	}
	if err != nil {
		cancel()
		logger.Error("history store unavailable", "backend", cfg.History.Backend, "error", err)
		os.Exit(1)
	}

	retriever, retrievalClient, err := openRetriever(ctx, cfg, store)
	cancel()
	if err != nil {
		logger.Warn("related document lookup disabled", "error", err)
	}

	srv := server.New(cfg, server.Dependencies{
		Store:      store,
		Summarizer: newSummarizer(cfg.Summarizer),
		Retriever:  retriever,
		Logger:     logger,
	})
	httpServer := server.CreateServer(cfg.Port, srv.SetupRoutes())

	go func() {
		if err := server.StartServer(httpServer, logger); err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				return server.ShutdownServer(ctx, httpServer, logger)
			},
			// Stores close only after every session has stopped writing to them.
			"hub": func(ctx context.Context) error {
				timeout := cfg.ShutdownTimeout
				if deadline, ok := ctx.Deadline(); ok {
					timeout = time.Until(deadline)
				}
				err := srv.Hub().Shutdown(timeout)
				return errors.Join(err, closeBackends(ctx, store, retrievalClient))
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", "code", exitCode)
	os.Exit(exitCode)
}

func closeBackends(ctx context.Context, store history.Store, retrievalClient *mongo.Client) error {
	err := store.Close(ctx)
	if retrievalClient != nil {
		err = errors.Join(err, retrievalClient.Disconnect(ctx))
	}
	return err
}

// loadConfig layers defaults, the YAML file, environment variables and
// command-line flags, in that order.
func loadConfig(args []string) (server.Config, error) {
	fs := pflag.NewFlagSet("digestchat", pflag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(server.ConfigEnvVar), "path to a YAML config file")
	port := fs.String("port", "", "listen address, e.g. :30001")
	historyBackend := fs.String("history-backend", "", "history backend: memory, mongo, postgres or redis")
	historyDSN := fs.String("history-dsn", "", "history backend connection string")
	summarizerURL := fs.String("summarizer-url", "", "summarization service URL")
	replayMode := fs.String("replay-mode", "", "history replay target: broadcast or direct")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return server.Config{}, err
	}

	cfg := server.NewConfig()
	if *configPath != "" {
		loaded, err := server.LoadConfig(*configPath)
		if err != nil {
			return server.Config{}, err
		}
		cfg = loaded
	}
	server.ApplyEnv(cfg)

	if fs.Changed("port") {
		cfg.Port = *port
	}
	if fs.Changed("history-backend") {
		cfg.History.Backend = *historyBackend
	}
	if fs.Changed("history-dsn") {
		cfg.History.DSN = *historyDSN
	}
	if fs.Changed("summarizer-url") {
		cfg.Summarizer.URL = *summarizerURL
	}
	if fs.Changed("replay-mode") {
		cfg.ReplayMode = server.ReplayMode(*replayMode)
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	return cfg.Sanitize(), nil
}

func openStore(ctx context.Context, cfg server.HistoryConfig) (history.Store, error) {
	switch cfg.Backend {
	case "mongo":
		return history.NewMongoStore(ctx, cfg.DSN, cfg.Database, cfg.Index, cfg.ReplayLimit)
	case "postgres":
		return history.NewPostgresStore(ctx, cfg.DSN, cfg.Index, cfg.ReplayLimit)
	case "redis":
		return history.NewRedisStore(ctx, cfg.DSN, cfg.Index, cfg.ReplayLimit)
	default:
		return history.NewMemoryStore(cfg.ReplayLimit), nil
	}
}

func newSummarizer(cfg server.SummarizerConfig) summarizer.Summarizer {
	if cfg.Backend == "openai" {
		return summarizer.NewOpenAI(cfg.APIKey, cfg.URL, cfg.Model)
	}
	return summarizer.NewHTTP(cfg.URL, cfg.Timeout)
}

// openRetriever shares the history database when it is Mongo and no separate
// URI is configured. The returned client is non-nil only when openRetriever
// connected it and the caller must disconnect it.
func openRetriever(ctx context.Context, cfg server.Config, store history.Store) (retrieval.Retriever, *mongo.Client, error) {
	if !cfg.Retrieval.Enabled {
		return nil, nil, nil
	}
	if ms, ok := store.(*history.MongoStore); ok && cfg.Retrieval.URI == "" {
		return retrieval.NewMongoRetriever(ms.Database(), cfg.Retrieval.Collection), nil, nil
	}
	if cfg.Retrieval.URI == "" {
		return nil, nil, errors.New("retrieval.uri is required unless history uses mongo")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Retrieval.URI))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	database := cfg.Retrieval.Database
	if database == "" {
		database = cfg.History.Database
	}
	return retrieval.NewMongoRetriever(client.Database(database), cfg.Retrieval.Collection), client, nil
}
