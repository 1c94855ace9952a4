package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/gridwatch/vms/internal/anpr"
	"github.com/gridwatch/vms/internal/api"
	"github.com/gridwatch/vms/internal/auth"
	"github.com/gridwatch/vms/internal/cameras"
	"github.com/gridwatch/vms/internal/config"
	"github.com/gridwatch/vms/internal/crypto"
	"github.com/gridwatch/vms/internal/data"
	"github.com/gridwatch/vms/internal/events"
	"github.com/gridwatch/vms/internal/health"
	"github.com/gridwatch/vms/internal/metrics"
	"github.com/gridwatch/vms/internal/middleware"
	"github.com/gridwatch/vms/internal/platform/paths"
	"github.com/gridwatch/vms/internal/ratelimit"
	"github.com/gridwatch/vms/internal/retention"
	"github.com/gridwatch/vms/internal/supervisor"
	"github.com/gridwatch/vms/internal/tokens"
	"github.com/gridwatch/vms/internal/transcoder"
	"github.com/gridwatch/vms/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	layout := paths.NewLayout(cfg.DataRoot)
	if err := layout.EnsureDirs(); err != nil {
		log.Fatalf("data layout: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("db ping: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	vault, err := crypto.NewVault([]byte(cfg.EncKey))
	if err != nil {
		log.Fatalf("vault: %v", err)
	}

	driver := transcoder.NewDriver(cfg.FFmpegPath, layout)
	if err := driver.VerifyBinary(); err != nil {
		log.Fatalf("transcoder: %v", err)
	}

	// Stores
	camModel := data.CameraModel{DB: db}
	recModel := data.RecordingModel{DB: db}
	anprModel := data.ANPREventModel{DB: db}
	userModel := data.UserModel{DB: db}
	statsModel := data.StatsModel{DB: db}

	// Event bus, optionally mirrored to NATS.
	bus := events.NewBus()
	var mirror *events.NATSMirror
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("vms-server"))
		if err != nil {
			log.Printf("nats connect failed, mirroring disabled: %v", err)
		} else {
			defer nc.Close()
			mirror = events.NewNATSMirror(nc, "vms.events")
			mirror.Start(bus)
		}
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Supervisor fleet: one per stored camera.
	fleet := supervisor.NewFleet(rootCtx, supervisor.WrapDriver(driver),
		camModel, recModel, bus, vault, layout, supervisor.Options{
			TerminateGrace:  cfg.Supervisor.TerminateGrace,
			SnapshotTimeout: cfg.Supervisor.SnapshotTimeout,
			GiveUp:          cfg.Supervisor.GiveUp,
		})

	startupCtx, startupCancel := context.WithTimeout(rootCtx, 30*time.Second)
	cams, err := camModel.List(startupCtx)
	startupCancel()
	if err != nil {
		log.Fatalf("load cameras: %v", err)
	}
	for _, cam := range cams {
		fleet.Add(cam)
	}
	fleet.StartAll(rootCtx)

	// Health probing feeds observations back through the fleet.
	monitor := health.NewMonitor(health.MonitorConfig{
		Interval: cfg.Health.Interval,
		Workers:  cfg.Health.Workers,
	}, camModel, vault, &health.RTSPProber{}, fleet)
	monitor.Start()

	// ANPR workers follow camera lifecycle events on the bus. Missing
	// inference binaries fall back to stubs so ticks don't exec-fail.
	var detector anpr.Detector = anpr.StubDetector{}
	var extractor anpr.Extractor = anpr.StubExtractor{}
	if cfg.ANPR.Enabled {
		if cfg.ANPR.DetectorBin != "" {
			detector = anpr.ExecDetector{Bin: cfg.ANPR.DetectorBin}
		} else {
			log.Printf("[anpr] no detector binary configured, using stub")
		}
		if cfg.ANPR.OCRBin != "" {
			extractor = anpr.ExecExtractor{Bin: cfg.ANPR.OCRBin}
		} else {
			log.Printf("[anpr] no ocr binary configured, using stub")
		}
	}
	pool := anpr.NewPool(cfg.ANPR.Enabled, driver, detector, extractor, anprModel, bus, vault, layout)
	pool.Start(rootCtx, cams)

	collector := retention.NewCollector(camModel, recModel, cfg.RetentionInterval)
	collector.Start()

	// Control surface
	tokenMgr := tokens.NewManager(cfg.JWTSecret)
	blacklist := auth.NewRedisBlacklist(rdb)
	userSvc := users.NewService(userModel, tokenMgr)
	camSvc := cameras.NewService(cameras.Store{Cameras: camModel}, fleet, vault, bus, pool)

	limiter := ratelimit.NewLimiter(rdb, cfg.JWTSecret)
	promCollector := metrics.NewCollector(camModel, bus, pool.Stats())

	hub := api.NewWSHub(bus)
	hub.Start()

	router := api.NewRouter(api.RouterDeps{
		Auth:       api.NewAuthHandler(userSvc, blacklist),
		Cameras:    api.NewCameraHandler(camSvc),
		Recordings: api.NewRecordingHandler(recModel),
		ANPR:       api.NewANPRHandler(anprModel),
		System:     api.NewSystemHandler(statsModel),
		Media:      api.NewMediaHandler(layout),
		Hub:        hub,
		JWT:        middleware.NewJWTAuth(tokenMgr, blacklist),
		LoginRate:  middleware.NewRateLimit(limiter, cfg.RateLimit),
		Metrics:    promCollector.Handler(),
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // long-lived media and websocket responses
	}

	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("shutdown requested")

	// Stop intake first, then drain media pipelines, then the event plumbing.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	hub.Stop()

	monitor.Stop()
	collector.Stop()
	pool.Stop()
	fleet.StopAll(shutdownCtx)
	rootCancel()

	if mirror != nil {
		mirror.Stop()
	}
	bus.Close()
	log.Printf("stopped")
}
