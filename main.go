package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"anibridge/api"
	"anibridge/config"
	"anibridge/handlers"
	"anibridge/internal/database"
	"anibridge/internal/httppool"
	"anibridge/services/anilist"
	"anibridge/services/history"
	"anibridge/services/jellyfin"
	"anibridge/services/scrobbler"
	"anibridge/utils"

	"gopkg.in/natefinch/lumberjack.v2"
)

const historyKeepRows = 5000

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("anibridge starting...")

	// Determine config path (env or default)
	configPath := os.Getenv("ANIBRIDGE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	// Apply port override if specified
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Generate a webhook API key on first run
	settings.Webhook.APIKey = strings.TrimSpace(settings.Webhook.APIKey)
	if settings.Webhook.APIKey == "" {
		key, err := utils.GenerateAPIKey()
		if err != nil {
			log.Fatalf("failed to generate webhook API key: %v", err)
		}
		settings.Webhook.APIKey = key
		if err := cfgManager.Save(settings); err != nil {
			log.Fatalf("failed to persist generated API key: %v", err)
		}
		fmt.Println("Generated a new webhook API key; configure the Jellyfin webhook plugin with it.")
	}
	fmt.Printf("Webhook API key: %s\n", settings.Webhook.APIKey)

	if strings.TrimSpace(settings.AniList.Token) == "" && len(settings.AniList.UserTokens) == 0 {
		log.Printf("warning: no AniList tokens configured; scrobbles will be skipped")
	}

	// Scrobble audit database
	db, err := database.New(settings.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	historyService, err := history.NewService(db)
	if err != nil {
		log.Fatalf("failed to initialise scrobble history: %v", err)
	}
	if pruned, err := historyService.Prune(context.Background(), historyKeepRows); err != nil {
		log.Printf("warning: history prune failed: %v", err)
	} else if pruned > 0 {
		log.Printf("[history] pruned %d old rows", pruned)
	}

	// Upstream clients
	pool := httppool.NewRegistry(15 * time.Second)
	anilistClient := anilist.NewClient(&http.Client{Timeout: 30 * time.Second})
	jellyfinClient := jellyfin.NewClient(pool, settings.Jellyfin.URL, settings.Jellyfin.APIKey)

	applier := scrobbler.NewApplier(anilistClient, scrobbler.DefaultRetryPolicy())
	scrobbleService := scrobbler.NewService(settings.AniList, jellyfinClient, anilistClient, applier, historyService)

	webhookHandler := handlers.NewWebhookHandler(scrobbleService)
	historyHandler := handlers.NewHistoryHandler(historyService)

	// API key getter so config edits take effect without a restart
	getKey := func() string {
		s, err := cfgManager.Load()
		if err != nil {
			return settings.Webhook.APIKey
		}
		return s.Webhook.APIKey
	}

	r := utils.NewRouter()
	api.Register(r, webhookHandler, historyHandler, getKey)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}
