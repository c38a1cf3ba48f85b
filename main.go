package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"streamvault/work/client"
	"streamvault/work/config"
	"streamvault/work/database"
	"streamvault/work/extract"
	"streamvault/work/handlers"
	"streamvault/work/logger"
	"streamvault/work/middleware"
	"streamvault/work/proxy"
	"streamvault/work/session"
	"streamvault/work/titles"
	"streamvault/work/token"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// set up logging
	if cfg.Debug {
		logger.SetLevel("debug")
	} else {
		logger.SetLevel(cfg.LogLevel)
	}

	// per-process stream token key; tokens die with the process
	codec, err := token.NewCodec()
	if err != nil {
		log.Fatalf("Failed to initialize token codec: %v", err)
	}

	// open the database and reload persisted referer observations
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	noReferer := proxy.NewNoRefererHostSet(func(host string) {
		if err := db.RecordNoRefererHost(host); err != nil {
			logger.Warn("{main.go - main} failed to persist no-referer host: %v", err)
		}
	})
	if hosts, err := db.NoRefererHosts(); err == nil {
		noReferer.Preload(hosts)
	} else {
		logger.Warn("{main.go - main} failed to load no-referer hosts: %v", err)
	}

	// initialize the HTTP client
	httpClient := client.NewHeaderSettingClient(cfg)

	// initialize the preload worker pool
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// catalog metadata resolver with its TTL cache
	titleResolver := titles.NewHTTPResolver(httpClient, cfg)

	// extraction orchestrator over the configured providers
	orchestrator, err := extract.NewOrchestrator(cfg, httpClient, titleResolver, workerPool, nil)
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}

	// stream proxy and session layer
	streamProxy := proxy.NewStreamProxy(cfg, httpClient, codec, noReferer)
	sessions := session.NewManager(cfg, orchestrator, db, streamProxy.EncodeStreamPath)
	defer sessions.Close()
	sessions.StartCleanup(context.Background())

	// setup HTTP routes
	router := mux.NewRouter()

	router.HandleFunc("/api/sources", middleware.Gzip(handlers.HandleSources(cfg))).Methods("GET")
	router.HandleFunc("/api/extract-stream", middleware.Gzip(handlers.HandleExtractStream(orchestrator, streamProxy))).Methods("GET")
	router.HandleFunc("/api/subtitle-file", middleware.Gzip(handlers.HandleSubtitleFile(httpClient))).Methods("GET")

	// stream proxy route; segments are already compressed, no gzip here
	router.HandleFunc("/stream/{token}", streamProxy.HandleStream()).Methods("GET")

	// playback session API
	router.HandleFunc("/api/session/enter", middleware.Gzip(handlers.HandleSessionEnter(sessions))).Methods("POST")
	router.HandleFunc("/api/session/fail", middleware.Gzip(handlers.HandleSessionFail(sessions))).Methods("POST")
	router.HandleFunc("/api/session/switch", middleware.Gzip(handlers.HandleSessionSwitch(sessions))).Methods("POST")
	router.HandleFunc("/api/session/retry", middleware.Gzip(handlers.HandleSessionRetry(sessions))).Methods("POST")
	router.HandleFunc("/api/session/leave", middleware.Gzip(handlers.HandleSessionLeave(sessions))).Methods("POST")
	router.HandleFunc("/api/session/position", middleware.Gzip(handlers.HandleSessionPosition(sessions))).Methods("POST")
	router.HandleFunc("/api/session/state", middleware.Gzip(handlers.HandleSessionState(sessions))).Methods("GET")

	// metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// show info
	logger.Info("Starting StreamVault %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Listen Addr: %s", cfg.ListenAddr)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Providers: %d enabled", len(orchestrator.Providers()))
	logger.Info("  - Fetch Timeout: %s", cfg.FetchTimeout)
	logger.Info("  - Fetch Retries: %d", cfg.FetchRetries)
	logger.Info("  - Session Idle Timeout: %s", cfg.SessionIdleTimeout)
	logger.Info("  - Database: %s", cfg.DatabasePath)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// fire us up
	if err := http.ListenAndServe(cfg.ListenAddr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}
