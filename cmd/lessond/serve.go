package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	lesson "github.com/linguapulse/lesson"
	"github.com/linguapulse/lesson/analysis"
	"github.com/linguapulse/lesson/api"
	"github.com/linguapulse/lesson/config"
	"github.com/linguapulse/lesson/dialogue"
	"github.com/linguapulse/lesson/dialogue/gemini"
	dialogueopenai "github.com/linguapulse/lesson/dialogue/openai"
	"github.com/linguapulse/lesson/engine"
	"github.com/linguapulse/lesson/messaging/telegram"
	"github.com/linguapulse/lesson/profile"
	"github.com/linguapulse/lesson/profile/postgres"
	"github.com/linguapulse/lesson/profile/supabase"
	"github.com/linguapulse/lesson/session"
	"github.com/linguapulse/lesson/voice"
	"github.com/linguapulse/lesson/voice/stt"
	"github.com/linguapulse/lesson/voice/transcode"
	"github.com/linguapulse/lesson/voice/tts"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lesson HTTP service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	logger := newLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           svc.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting lessond",
		"addr", cfg.Addr,
		"kv_driver", cfg.KVDriver,
		"profile_driver", cfg.ProfileDriver,
		"llm_provider", cfg.LLMProvider)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("lessond stopped")
	return nil
}

type service struct {
	handler  http.Handler
	kv       session.Store
	profiles profile.Store
}

func (s *service) Close() error {
	return errors.Join(s.kv.Close(), s.profiles.Close())
}

// buildService assembles the controllers of every variant and the HTTP
// surface in front of them.
func buildService(ctx context.Context, cfg config.Config, logger *slog.Logger) (*service, error) {
	variants, err := config.LoadVariants(cfg.VariantsFile)
	if err != nil {
		return nil, err
	}

	kv, err := openSessionStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	profiles, err := openProfileStore(ctx, cfg)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	svc := &service{kv: kv, profiles: profiles}

	llm, err := newDialogueProvider(ctx, cfg)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	var transcoder transcode.Transcoder
	if cfg.TransloaditKey != "" {
		t, err := transcode.NewTransloadit(transcode.Config{
			Key:        cfg.TransloaditKey,
			TemplateID: cfg.TransloaditTemplate,
			Timeout:    cfg.TranscodeTimeout,
		}, nil, logger)
		if err != nil {
			_ = svc.Close()
			return nil, err
		}
		transcoder = t
	}

	messenger := telegram.New(cfg.BotToken)
	metrics := engine.NewMetrics("")
	pipeline := voice.NewPipeline(
		tts.NewOpenAI(cfg.OpenAIKey, tts.SynthesizeOptions{}),
		transcoder,
		messenger,
		tts.SynthesizeOptions{Model: cfg.TTSModel, Voice: cfg.TTSVoice},
		logger,
	)
	generator := dialogue.NewGenerator(llm, dialogue.Config{
		MaxHistoryTokens: cfg.LLMMaxHistoryTokens,
		Logger:           logger,
	})
	deps := engine.Deps{
		Store:      kv,
		Profiles:   profiles,
		Messenger:  messenger,
		STT:        stt.NewOpenAI(cfg.OpenAIKey),
		Transcribe: stt.TranscribeOptions{Model: cfg.STTModel},
		Dialogue:   generator,
		Voice:      pipeline,
		Analyzer:   analysis.New(llm, analysis.Config{Concurrency: cfg.AnalysisConcurrency, Logger: logger}),
		Metrics:    metrics,
		Logger:     logger,
	}

	lessons := make(map[lesson.Kind]api.Lessons)
	for _, kind := range []lesson.Kind{lesson.KindFree, lesson.KindPaid} {
		vc, err := variants.Get(kind)
		if err != nil {
			_ = svc.Close()
			return nil, err
		}
		ctrl, err := engine.NewController(vc, deps)
		if err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("variant %s: %w", kind, err)
		}
		lessons[kind] = ctrl
	}

	svc.handler = api.New(api.Config{
		Lessons:        lessons,
		Messenger:      messenger,
		Metrics:        metrics.Handler(),
		HandlerTimeout: cfg.HandlerTimeout,
		Logger:         logger,
	}).Handler()
	return svc, nil
}

func openSessionStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Store, error) {
	var (
		store session.Store
		err   error
	)
	switch cfg.KVDriver {
	case config.KVDriverRedis:
		opts, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", perr)
		}
		client := redis.NewClient(opts)
		if perr := client.Ping(ctx).Err(); perr != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", perr)
		}
		store, err = session.NewStore(session.StoreTypeRedis, session.WithRedisClient(client))
	default:
		store, err = session.NewStore(session.StoreTypeMemory)
	}
	if err != nil {
		return nil, err
	}
	return session.NewResilient(store, cfg.KVMinTTL, logger), nil
}

func openProfileStore(ctx context.Context, cfg config.Config) (profile.Store, error) {
	switch cfg.ProfileDriver {
	case config.ProfileDriverSupabase:
		return supabase.New(supabase.Config{
			URL:      cfg.SupabaseURL,
			APIKey:   cfg.SupabaseKey,
			CacheTTL: cfg.ProfileCacheTTL,
			Location: cfg.Location(),
		})
	case config.ProfileDriverPostgres:
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return postgres.New(pool, cfg.Location()), nil
	default:
		return profile.NewMemoryStore(cfg.Location()), nil
	}
}

func newDialogueProvider(ctx context.Context, cfg config.Config) (dialogue.Provider, error) {
	switch cfg.LLMProvider {
	case config.LLMProviderGemini:
		return gemini.New(ctx, gemini.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.LLMModel})
	default:
		return dialogueopenai.New(cfg.OpenAIKey, dialogueopenai.WithModel(cfg.LLMModel)), nil
	}
}
