package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"garita/config"
	"garita/internal/adminapi"
	"garita/internal/creds"
	"garita/internal/db"
	"garita/internal/deviceapi"
	"garita/internal/engine"
	"garita/internal/extsvc"
	"garita/internal/health"
	"garita/internal/logs"
	"garita/internal/middleware"
	"garita/internal/models"
	"garita/internal/queue"
	"garita/internal/registry"
	"garita/internal/repo"
	"garita/internal/secrets"
	"garita/internal/store"
	"garita/internal/store/memory"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server
	deviceAPI  *deviceapi.Handler

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	/* 1) Logging */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB (optional; empty driver means in-memory stores) */
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			log.Fatalf("db open failed: %v", err)
		}
		a.db = d

		if err := a.db.AutoMigrate(
			&models.Device{},
			&models.Credential{},
			&models.AccessEvent{},
			&models.AccessCommand{},
			&models.APIToken{},
		); err != nil {
			log.Fatalf("db migrate failed: %v", err)
		}
	}

	var (
		devices  store.DeviceStore
		credsSt  store.CredentialStore
		events   store.EventStore
		commands store.CommandStore
		tokens   store.APITokenStore
	)
	if a.db != nil {
		devices = repo.NewDeviceStore(a.db)
		credsSt = repo.NewCredentialStore(a.db)
		events = repo.NewEventStore(a.db)
		commands = repo.NewCommandStore(a.db)
		tokens = repo.NewAPITokenStore(a.db)
	} else {
		logs.Logger.Warn("no database configured, all state is in-memory")
		mem := memory.NewStores()
		devices = mem.Devices
		credsSt = mem.Credentials
		events = mem.Events
		commands = mem.Commands
		tokens = mem.APITokens
	}

	a.seedBootstrapToken(tokens)

	/* 3) Domain services */
	hasher := secrets.NewHasher(a.cfg.Security.CredentialKey)
	reg := registry.New(devices)
	credSvc := creds.New(credsSt, hasher)
	queueSvc := queue.New(commands,
		time.Duration(a.cfg.Queue.DefaultExpirySeconds)*time.Second,
		time.Duration(a.cfg.Queue.ClaimLeaseSeconds)*time.Second,
	)

	att := a.attendanceClient()
	tok := a.tokenClient()

	tz, err := time.LoadLocation(a.cfg.Security.Timezone)
	if err != nil {
		log.Fatalf("invalid security.timezone %q: %v", a.cfg.Security.Timezone, err)
	}
	eng := engine.New(devices, events, credSvc, att, tok, tz)

	/* 4) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	/* 5) Health */
	if a.db != nil {
		health.RegisterRoutesWithDB(a.Router, a.db) // /healthz, /readyz
	} else {
		health.RegisterRoutes(a.Router) // /healthz only
	}

	/* 6) Device and operator APIs */
	a.deviceAPI = deviceapi.New(reg, queueSvc, eng, a.cfg.Pairing.MaxPerMinute)
	deviceapi.RegisterRoutes(a.Router, a.deviceAPI)
	adminapi.RegisterRoutes(a.Router, adminapi.New(reg, queueSvc, credSvc, devices, events, tokens))

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

// seedBootstrapToken installs the configured full-scope operator token, but
// only into an empty api_tokens table: once real tokens exist the bootstrap
// value is ignored.
func (a *App) seedBootstrapToken(tokens store.APITokenStore) {
	raw := a.cfg.Security.BootstrapToken
	if raw == "" {
		return
	}
	ctx := context.Background()
	n, err := tokens.Count(ctx)
	if err != nil {
		log.Fatalf("api token count failed: %v", err)
	}
	if n > 0 {
		return
	}
	hash, err := secrets.HashSecret(raw)
	if err != nil {
		log.Fatalf("bootstrap token hash failed: %v", err)
	}
	if err := tokens.Create(ctx, &models.APIToken{
		Name:      "bootstrap",
		TokenHash: hash,
		Scope:     "*",
	}); err != nil {
		log.Fatalf("bootstrap token seed failed: %v", err)
	}
	logs.Logger.Info("seeded bootstrap operator token")
}

func (a *App) attendanceClient() extsvc.Attendance {
	if a.cfg.Attendance.BaseURL == "" {
		logs.Logger.Warn("attendance.base_url not set, DNI and credential entry will be denied")
		return extsvc.DisabledAttendance{}
	}
	c, err := extsvc.NewAttendanceClient(a.cfg.Attendance.BaseURL, a.cfg.Attendance.APIKey)
	if err != nil {
		log.Fatalf("attendance client: %v", err)
	}
	return c
}

func (a *App) tokenClient() extsvc.Tokens {
	if a.cfg.Tokens.BaseURL == "" {
		logs.Logger.Warn("tokens.base_url not set, qr_token entry will be denied")
		return extsvc.DisabledTokens{}
	}
	c, err := extsvc.NewTokenClient(a.cfg.Tokens.BaseURL, a.cfg.Tokens.APIKey)
	if err != nil {
		log.Fatalf("token client: %v", err)
	}
	return c
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	a.deviceAPI.Close()
	return nil
}
