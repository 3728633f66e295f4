// Package app wires the teamly runtime: config, logging, the REST client,
// the gateway session, the optional message archive and the ops HTTP server.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"teamly/cmd/internal/archive"
	"teamly/cmd/internal/cache"
	"teamly/cmd/internal/dispatch"
	"teamly/cmd/internal/gateway"
	"teamly/cmd/internal/rest"
	"teamly/cmd/internal/session"
	"teamly/cmd/security/token"
)

// App is the teamly runtime: one gateway session plus its supporting services.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry
	client   *rest.Client
	session  *session.Session

	archive archive.Store
	dbPool  *pgxpool.Pool
}

// New constructs a fully wired App. It connects to the database when one is
// configured but does not open the gateway; call Run.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}
	log.Info("app.start", "api", cfg.APIBaseURL, "gateway", cfg.GatewayURL, "token_fp", token.Fingerprint(cfg.Token))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client, err := rest.New(rest.Config{
		BaseURL:           cfg.APIBaseURL,
		GatewayURL:        cfg.GatewayURL,
		HTTPClient:        &http.Client{Timeout: cfg.RESTTimeout},
		RequestsPerSecond: cfg.RESTRequestsPerSecond,
		Burst:             cfg.RESTBurst,
		MaxRetries:        cfg.RESTMaxRetries,
		Logger:            log,
	})
	if err != nil {
		return nil, err
	}

	sess, err := session.New(log, client, session.Options{
		Gateway: gateway.Options{
			HeartbeatInterval: cfg.HeartbeatInterval,
			ConnectTimeout:    cfg.ConnectTimeout,
			ReconnectInitial:  cfg.ReconnectInitial,
			ReconnectMax:      cfg.ReconnectMax,
			Limiter:           gateway.NewRateLimiter(cfg.RateLimitEvents, cfg.RateLimitWindow),
			OnStateChange: func(from, to gateway.State) {
				log.Info("gateway.state", "from", from, "to", to)
			},
		},
		Cache: cache.Options{
			MaxMessages:           cfg.MaxMessages,
			BootstrapMessageLimit: cfg.BootstrapMessageLimit,
			BootstrapConcurrency:  cfg.BootstrapConcurrency,
		},
		CallbackBacklogWarn: cfg.CallbackBacklogWarn,
		StopGrace:           cfg.StopGrace,
		Registerer:          reg,
	})
	if err != nil {
		return nil, err
	}

	store, pool, err := newArchive(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	archive.NewRecorder(log, store, cfg.ArchiveWrite).Attach(sess.Registry)

	sess.OnReady(func(ev dispatch.ReadyEvent) {
		log.Info("session.ready", "user_id", ev.User.ID, "username", ev.User.Username, "teams", len(ev.Teams))
	})
	sess.OnDisconnected(func(ev dispatch.DisconnectEvent) {
		log.Warn("session.disconnected", "reason", ev.Reason)
	})

	return &App{
		cfg:      cfg,
		log:      log,
		registry: reg,
		client:   client,
		session:  sess,
		archive:  store,
		dbPool:   pool,
	}, nil
}

// Session returns the gateway session, for registering callbacks before Run.
func (a *App) Session() *session.Session { return a.session }

// Run starts the ops server (if configured) and the gateway session, and
// blocks until ctx is done or the credential is rejected.
func (a *App) Run(ctx context.Context) error {
	var (
		srv   *http.Server
		errCh = make(chan error, 1)
	)
	if a.cfg.OpsAddr != "" {
		srv = a.opsServer()
		a.log.Info("ops.start", "addr", a.cfg.OpsAddr, "archive_db", a.dbPool != nil)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	sessCtx, stopSession := context.WithCancel(ctx)
	defer stopSession()

	sessErr := make(chan error, 1)
	go func() { sessErr <- a.session.Start(sessCtx, a.cfg.Token) }()

	var err error
	select {
	case err = <-sessErr:
	case err = <-errCh:
		a.log.Error("ops.fail", "err", err)
		stopSession()
		<-sessErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if srv != nil {
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.log.Error("ops.shutdown.fail", "err", serr)
		}
	}
	a.close()

	a.log.Info("app.stopped")
	return err
}

func (a *App) opsServer() *http.Server {
	mux := http.NewServeMux()

	ready := readiness{sessionReady: a.session.Ready}
	if pool := a.dbPool; pool != nil {
		ready.pingDB = func(ctx context.Context) error { return PingDB(ctx, pool, 2*time.Second) }
	}
	registerHTTP(mux, a.log, a.registry, ready)

	return &http.Server{
		Addr:              a.cfg.OpsAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
	}
}

func (a *App) close() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.log.Error("archive.close.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// newArchive decides between the Postgres archive and the in-memory one.
func newArchive(ctx context.Context, cfg Config, log Logger) (archive.Store, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_archive")
		return archive.NewInMemoryStore(), nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	store, err := archive.NewPostgresStore(pool, archive.WithSchema(cfg.ArchiveSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	log.Info("db.enabled.postgres_archive", "schema", cfg.ArchiveSchema)
	return store, pool, nil
}
