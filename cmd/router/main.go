// Command router runs the chat event routing service: HTTP ingress, the
// durable stream consumer when enabled, and the dispatch pipeline behind
// them. Configuration comes from the environment (see internal/config).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/openflux/eventrouter/internal/config"
	"github.com/openflux/eventrouter/internal/dispatch"
	"github.com/openflux/eventrouter/internal/domain"
	httpapi "github.com/openflux/eventrouter/internal/http"
	"github.com/openflux/eventrouter/internal/notify"
	"github.com/openflux/eventrouter/internal/observability"
	"github.com/openflux/eventrouter/internal/ratelimit"
	"github.com/openflux/eventrouter/internal/registry"
	"github.com/openflux/eventrouter/internal/repo"
	"github.com/openflux/eventrouter/internal/resolver"
	"github.com/openflux/eventrouter/internal/router"
	"github.com/openflux/eventrouter/internal/session"
	"github.com/openflux/eventrouter/internal/store"
	"github.com/openflux/eventrouter/internal/stream"
	"github.com/openflux/eventrouter/internal/sysutil"
	"github.com/openflux/eventrouter/internal/translate"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetLogLevel(cfg.LogLevel)

	var out = zerolog.New(os.Stdout)
	if cfg.LogPretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	log := out.With().Timestamp().
		Str("service", sysutil.FirstNonEmpty(cfg.OTEL.ServiceName, "event-router")).
		Logger()
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting router")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Warn().Err(err).Msg("tracing setup failed, continuing without it")
		otelShutdown = func(context.Context) error { return nil }
	}

	db, err := repo.OpenSQLite(cfg.DBPath, cfg.OTEL.Enabled)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	// Shared store: nil kv means every instance keeps its own rate-limit
	// windows and cooldown stamps, and the stream transport stays off.
	var (
		kv  store.KV
		rdb *redis.Client
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		r := store.NewRedis(rdb)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := r.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).
				Msg("redis unreachable at startup, limits degrade to per-instance until it recovers")
		}
		pingCancel()
		kv = r
	} else {
		log.Info().Msg("no shared store configured, rate limits are per-instance")
	}
	respKV := kv
	if respKV == nil {
		respKV = store.NewMemory()
	}

	pool := notify.NewPool(cfg.Notify.Workers, cfg.Notify.QueueDepth, cfg.Notify.Timeout, log)
	hub := notify.NewHub(pool, notify.Endpoints{
		ActivityURL:   cfg.Notify.ActivityURL,
		ReputationURL: cfg.Notify.ReputationURL,
		WorkflowURL:   cfg.Notify.WorkflowURL,
		CaptionURL:    cfg.Translation.CaptionURL,
	}, nil)

	res := resolver.New(db, communityRepoShim{}, cfg.ResolverTTL)
	reg := registry.New(db, bindingRepoShim{}, cfg.RegistryTTL)
	limiter := ratelimit.NewLimiter(kv, log)
	cooldowns := ratelimit.NewCooldown(kv, log)
	responses := session.NewStore(respKV, cfg.SessionTTL)

	var translator router.Translator
	if p := buildTranslator(cfg, kv, db, hub, log); p != nil {
		translator = p
		if cfg.Translation.PruneAfter > 0 {
			go pruneTranslations(ctx, db, cfg.Translation.PruneAfter, log)
		}
	}

	dispatcher := dispatch.New(
		dispatch.NewGRPCTransport(),
		dispatch.NewHTTPTransport(nil),
		reg,
		cooldowns,
		responses,
		dispatch.NewSigner(cfg.Dispatch.TokenSecret, cfg.Dispatch.TokenTTL),
		hub,
		dispatch.Options{
			Timeout:        cfg.Dispatch.Timeout,
			MaxAttempts:    cfg.Dispatch.MaxRetries + 1,
			InitialBackoff: cfg.Dispatch.InitialBackoff,
		},
		log,
	)

	svc := router.NewService(
		session.NewManager(),
		res,
		limiter,
		reg,
		translator,
		dispatcher,
		hub,
		router.Options{
			RateLimit:       cfg.RateLimit,
			RateWindow:      cfg.RateWindow,
			BatchMaxEvents:  cfg.BatchMaxEvents,
			BatchConcurrent: cfg.BatchConcurrent,
		},
		log,
	)

	deps := httpapi.Deps{
		Pipeline:  svc,
		Responses: responses,
		Registry:  reg,
		Resolver:  res,
		DB:        db,
	}

	var consumerDone chan struct{}
	if cfg.Stream.Enabled && rdb != nil {
		pub := stream.NewPublisher(rdb, cfg.Stream.Stream)
		cons := stream.NewConsumer(rdb, db, svc, stream.Config{
			Stream:     cfg.Stream.Stream,
			DeadLetter: cfg.Stream.DeadLetter,
			Group:      cfg.Stream.Group,
			Consumer:   cfg.Stream.Consumer,
			BatchSize:  cfg.Stream.BatchSize,
			BlockFor:   cfg.Stream.BlockFor,
			MaxRetries: cfg.Stream.MaxRetries,

			ClaimMinIdle: cfg.Stream.ClaimMinIdle,
		}, log)

		consumerDone = make(chan struct{})
		go func() {
			defer close(consumerDone)
			if err := cons.Run(ctx); err != nil {
				log.Error().Err(err).Msg("stream consumer exited")
			}
		}()

		deps.Publisher = pub
		deps.Replay = func(ctx context.Context, id string) error {
			return stream.ReplayDeadLetter(ctx, db, pub, id)
		}
	}

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Str("base_path", cfg.APIBasePath).Msg("listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	cancel() // stops the stream consumer
	if consumerDone != nil {
		select {
		case <-consumerDone:
		case <-shutdownCtx.Done():
			log.Warn().Msg("stream consumer did not stop in time")
		}
	}

	pool.Stop()
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
	log.Info().Msg("bye")
}

// buildTranslator assembles the translation pipeline from configuration. It
// returns nil when translation is disabled, which the routing service treats
// as pass-through.
func buildTranslator(cfg config.Config, kv store.KV, db *gorm.DB, hub *notify.Hub, log zerolog.Logger) *translate.Pipeline {
	if !cfg.Translation.Enabled {
		return nil
	}

	var providers []translate.Provider
	if cfg.Translation.PrimaryURL != "" {
		providers = append(providers, &translate.LibreProvider{
			URL:    cfg.Translation.PrimaryURL,
			APIKey: cfg.Translation.PrimaryKey,
		})
	}
	if cfg.Translation.OpenAIKey != "" {
		providers = append(providers, translate.NewOpenAIProvider(cfg.Translation.OpenAIKey, cfg.Translation.OpenAIModel))
	}
	if cfg.Translation.FallbackURL != "" {
		providers = append(providers, &translate.MyMemoryProvider{URL: cfg.Translation.FallbackURL})
	}
	if len(providers) == 0 {
		log.Warn().Msg("translation enabled but no providers configured, cache tiers only")
	}

	cache := translate.NewTiered(kv, db, translationRepoShim{},
		cfg.Translation.LocalTTL, cfg.Translation.SharedTTL, cfg.Translation.LocalMaxItems, log)
	chain := translate.NewChain(cfg.Translation.ProviderTimeout, log, providers...)

	var emotes translate.EmoteChecker
	if cfg.Translation.EmoteURL != "" {
		emotes = translate.NewEmoteResolver(&translate.HTTPEmoteSource{URL: cfg.Translation.EmoteURL}, cfg.EmoteTTL, log)
	}

	return translate.NewPipeline(translate.Options{
		Enabled:       true,
		TargetLang:    cfg.Translation.TargetLang,
		MinWords:      cfg.Translation.MinWords,
		MinConfidence: cfg.Translation.MinConfidence,
	}, cache, chain, emotes, hub, log)
}

// pruneTranslations periodically removes persistent cache rows that have not
// been read since the retention cutoff.
func pruneTranslations(ctx context.Context, db *gorm.DB, after time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PruneTranslations(ctx, db, time.Now().UTC().Add(-after))
			if err != nil {
				log.Warn().Err(err).Msg("translation cache prune failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("rows", n).Msg("pruned translation cache")
			}
		}
	}
}

// The shims below adapt the repository free functions to the consumer-side
// interfaces the pipeline components declare.

type communityRepoShim struct{}

// FindCommunity proxies repo.FindCommunity.
func (communityRepoShim) FindCommunity(ctx context.Context, db *gorm.DB, platform, channelID string) (string, error) {
	return repo.FindCommunity(ctx, db, platform, channelID)
}

type bindingRepoShim struct{}

// CreateBinding proxies repo.CreateBinding.
func (bindingRepoShim) CreateBinding(ctx context.Context, db *gorm.DB, b *domain.CommandBinding) error {
	return repo.CreateBinding(ctx, db, b)
}

// GetBinding proxies repo.GetBinding.
func (bindingRepoShim) GetBinding(ctx context.Context, db *gorm.DB, id string) (*domain.CommandBinding, error) {
	return repo.GetBinding(ctx, db, id)
}

// FindBinding proxies repo.FindBinding.
func (bindingRepoShim) FindBinding(ctx context.Context, db *gorm.DB, command string, communityID *string) (*domain.CommandBinding, error) {
	return repo.FindBinding(ctx, db, command, communityID)
}

// ListBindings proxies repo.ListBindings.
func (bindingRepoShim) ListBindings(ctx context.Context, db *gorm.DB) ([]domain.CommandBinding, error) {
	return repo.ListBindings(ctx, db)
}

// UpdateBinding proxies repo.UpdateBinding.
func (bindingRepoShim) UpdateBinding(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	return repo.UpdateBinding(ctx, db, id, fields)
}

// SetBindingEnabled proxies repo.SetBindingEnabled.
func (bindingRepoShim) SetBindingEnabled(ctx context.Context, db *gorm.DB, id string, enabled bool) error {
	return repo.SetBindingEnabled(ctx, db, id, enabled)
}

// DeleteBinding proxies repo.DeleteBinding.
func (bindingRepoShim) DeleteBinding(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteBinding(ctx, db, id)
}

type translationRepoShim struct{}

// GetTranslation proxies repo.GetTranslation.
func (translationRepoShim) GetTranslation(ctx context.Context, db *gorm.DB, key string) (*domain.TranslationEntry, error) {
	return repo.GetTranslation(ctx, db, key)
}

// UpsertTranslation proxies repo.UpsertTranslation.
func (translationRepoShim) UpsertTranslation(ctx context.Context, db *gorm.DB, e *domain.TranslationEntry) error {
	return repo.UpsertTranslation(ctx, db, e)
}
