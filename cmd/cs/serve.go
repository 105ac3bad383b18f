package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zulandar/callsheet/internal/ai"
	"github.com/zulandar/callsheet/internal/ai/anthropic"
	"github.com/zulandar/callsheet/internal/ai/openai"
	"github.com/zulandar/callsheet/internal/bot"
	"github.com/zulandar/callsheet/internal/bot/discord"
	"github.com/zulandar/callsheet/internal/bot/slack"
	"github.com/zulandar/callsheet/internal/bot/telegram"
	"github.com/zulandar/callsheet/internal/config"
	"github.com/zulandar/callsheet/internal/db"
	"github.com/zulandar/callsheet/internal/events"
	"github.com/zulandar/callsheet/internal/logging"
	"github.com/zulandar/callsheet/internal/media"
	"github.com/zulandar/callsheet/internal/prompts"
	"github.com/zulandar/callsheet/internal/server"
	"github.com/zulandar/callsheet/internal/store"
	"github.com/zulandar/callsheet/internal/store/notion"
	"github.com/zulandar/callsheet/internal/store/sqlstore"
	"gorm.io/gorm"
)

const logRingSize = 200

func newServeCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Long:  "Connects to the configured chat platform and serves operators until interrupted. Also runs the HTTP server and the scratch sweeper.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, envFile)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to callsheet config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	return cmd
}

func runServe(cmd *cobra.Command, configPath, envFile string) error {
	cfg, err := loadConfig(configPath, envFile)
	if err != nil {
		return err
	}

	ring := logging.NewRing(logRingSize)
	log := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Out:    cmd.ErrOrStderr(),
		Ring:   ring,
	})

	a, err := buildApp(cfg, &log, ring, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.run(ctx)
}

// app holds every long-running component of cs serve.
type app struct {
	daemon    *bot.Daemon
	router    *bot.Router
	server    *server.Server // nil when the HTTP server is disabled
	scheduler *media.Scheduler
	cache     *media.Cache
	prompts   *prompts.Store
	watch     bool
	closers   []func()
	log       zerolog.Logger
}

// buildApp wires the components described by cfg. Nothing connects to a
// chat platform until run.
func buildApp(cfg *config.Config, log *zerolog.Logger, ring *logging.Ring, out io.Writer) (*app, error) {
	a := &app{watch: cfg.Prompts.Watch, log: *log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	promptStore, err := prompts.NewStore(prompts.StoreOpts{Dir: cfg.Prompts.Dir, Logger: log})
	if err != nil {
		return nil, err
	}
	a.prompts = promptStore

	adapter, webhook, err := createAdapter(cfg, log)
	if err != nil {
		return nil, err
	}

	cache, err := media.NewCache(media.CacheOpts{
		Dir:        cfg.Media.ScratchDir,
		Downloader: adapter,
		MaxBytes:   cfg.Media.MaxAttachmentBytes(),
		Retention:  cfg.Media.Retention,
		Timeout:    cfg.Timeouts.AI,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	a.cache = cache
	if a.scheduler, err = media.NewScheduler(cache, cfg.Media.SweepCron); err != nil {
		return nil, err
	}

	pipeline, speakersModel, err := createPipeline(cfg, log)
	if err != nil {
		return nil, err
	}

	gormDB, err := db.Connect(cfg.Store.SQL.Driver, cfg.Store.SQL.DSN)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		a.closers = append(a.closers, func() { sqlDB.Close() })
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}

	records, err := createStore(cfg, gormDB)
	if err != nil {
		return nil, err
	}

	commentLog, err := events.NewDBLog(gormDB)
	if err != nil {
		return nil, err
	}
	publisher := events.Multi{commentLog}
	if cfg.Events.NATSURL != "" {
		nc, err := events.NewNATS(events.NATSOpts{
			URL:     cfg.Events.NATSURL,
			Token:   cfg.Events.Token,
			Subject: cfg.Events.Subject,
			Logger:  log,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nc.Close)
		publisher = append(publisher, nc)
	}

	router, err := bot.NewRouter(bot.RouterOpts{
		Access:            bot.NewAccess(cfg.Access),
		Adapter:           adapter,
		Prompts:           promptStore,
		Media:             cache,
		Pipeline:          pipeline,
		Store:             records,
		Publisher:         publisher,
		Counter:           commentLog,
		Ring:              ring,
		StoreTimeout:      cfg.Timeouts.Store,
		SpeakersModel:     speakersModel,
		SpeakersMaxTokens: cfg.AI.SpeakersMaxTokens,
		Logger:            log,
		Out:               out,
	})
	if err != nil {
		return nil, err
	}
	a.router = router

	if a.daemon, err = bot.NewDaemon(bot.DaemonOpts{
		Adapter: adapter,
		Handler: router,
		Logger:  log,
		Out:     out,
	}); err != nil {
		return nil, err
	}

	if cfg.HTTP.Port > 0 {
		srvOpts := server.Opts{
			Port:     cfg.HTTP.Port,
			Prompts:  promptStore,
			Sessions: router.Sessions(),
			Logger:   log,
			Out:      out,
		}
		if webhook != nil {
			srvOpts.Webhook = webhook
			srvOpts.WebhookPath = cfg.Telegram.WebhookPath
		}
		if a.server, err = server.New(srvOpts); err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

// run starts the background components and blocks in the daemon until
// ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.scheduler.Run(ctx)
	}()

	if a.watch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.prompts.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn().Err(err).Msg("prompt watcher stopped")
			}
		}()
	}

	if a.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.server.Run(ctx); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
				cancel()
			}
		}()
	}

	err := a.daemon.Run(ctx)
	cancel()
	wg.Wait()

	if err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// close releases connections in reverse order of creation.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// createAdapter builds the platform adapter from the config. The returned
// handler is non-nil only for a Telegram bot in webhook mode.
func createAdapter(cfg *config.Config, log *zerolog.Logger) (bot.Adapter, http.Handler, error) {
	switch cfg.Platform {
	case "telegram":
		a, err := telegram.New(telegram.AdapterOpts{
			Token:      cfg.Telegram.Token,
			WebhookURL: cfg.Telegram.WebhookURL,
			Debug:      cfg.Telegram.Debug,
			Logger:     log,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Telegram.WebhookURL != "" {
			return a, a.WebhookHandler(), nil
		}
		return a, nil, nil
	case "slack":
		a, err := slack.New(slack.AdapterOpts{
			AppToken: cfg.Slack.AppToken,
			BotToken: cfg.Slack.BotToken,
			Logger:   log,
		})
		return a, nil, err
	case "discord":
		a, err := discord.New(discord.AdapterOpts{
			BotToken: cfg.Discord.BotToken,
			Logger:   log,
		})
		return a, nil, err
	default:
		return nil, nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

// createPipeline builds the AI pipeline. Transcription always uses OpenAI;
// generation uses the configured provider. The returned model is the one
// used for speaker-split transcripts.
func createPipeline(cfg *config.Config, log *zerolog.Logger) (*ai.Pipeline, string, error) {
	oa, err := openai.New(openai.ClientOpts{
		APIKey:          cfg.AI.OpenAIAPIKey,
		BaseURL:         cfg.AI.OpenAIBaseURL,
		TranscribeModel: cfg.AI.TranscribeModel,
		ChatModel:       cfg.AI.AnalysisModel,
		MaxTokens:       cfg.AI.AnalysisMaxTokens,
	})
	if err != nil {
		return nil, "", err
	}

	var gen ai.Generator = oa
	model, speakersModel := cfg.AI.AnalysisModel, cfg.AI.SpeakersModel
	if cfg.AI.Generator == "anthropic" {
		gen, err = anthropic.New(anthropic.ClientOpts{
			APIKey:    cfg.AI.AnthropicAPIKey,
			Model:     cfg.AI.AnthropicModel,
			MaxTokens: cfg.AI.AnalysisMaxTokens,
		})
		if err != nil {
			return nil, "", err
		}
		model, speakersModel = cfg.AI.AnthropicModel, cfg.AI.AnthropicModel
	}

	p, err := ai.NewPipeline(ai.PipelineOpts{
		Transcriber: oa,
		Generator:   gen,
		Timeout:     cfg.Timeouts.AI,
		Model:       model,
		MaxTokens:   cfg.AI.AnalysisMaxTokens,
		Logger:      log,
	})
	if err != nil {
		return nil, "", err
	}
	return p, speakersModel, nil
}

// createStore builds the record store. The sql backend shares gormDB with
// the comment log.
func createStore(cfg *config.Config, gormDB *gorm.DB) (store.RecordStore, error) {
	switch cfg.Store.Driver {
	case "sql":
		return sqlstore.New(gormDB)
	case "notion":
		return notion.New(notion.ClientOpts{
			APIKey:     cfg.Store.Notion.APIKey,
			DatabaseID: cfg.Store.Notion.DatabaseID,
			BaseURL:    cfg.Store.Notion.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// stdinOr returns path opened for reading, or stdin for "-".
func stdinOr(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}
