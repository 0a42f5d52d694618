// Command server runs the recognition matching service over HTTP.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	anerkennung "github.com/jonathanglasmeyer/haw-modul-anerkennung"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/logging"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	logMode := flag.String("log", "prod", "log mode: prod or dev")
	flag.Parse()

	// Local development keeps secrets in .env; missing file is fine.
	_ = godotenv.Load()

	log, err := logging.New(*logMode)
	if err != nil {
		os.Stderr.WriteString("logger init: " + err.Error() + "\n")
		os.Exit(1)
	}

	cfg := anerkennung.DefaultConfig()
	if *configPath != "" {
		cfg, err = anerkennung.LoadConfig(*configPath)
		if err != nil {
			log.Fatal("loading config", "error", err)
		}
	}
	applyEnv(&cfg)
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	svc, err := anerkennung.New(cfg, log)
	if err != nil {
		log.Fatal("creating service", "error", err)
	}
	defer svc.Close()

	if cfg.Server.SyncOnStartup {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		count, err := svc.Reconcile(ctx, false)
		cancel()
		if err != nil {
			// Startup sync failure is not fatal; the index may just
			// be stale until the next sync.
			log.Warn("startup sync failed", "error", err)
		} else {
			log.Info("startup sync complete", "indexed_units", count)
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(svc, cfg.Server, log).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // comparison responses can take minutes
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown", "error", err)
	}
	log.Info("server stopped")
}

// applyEnv layers environment variables over the file config.
func applyEnv(cfg *anerkennung.Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ANERKENNUNG_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ANERKENNUNG_INDEX_PATH"); v != "" {
		cfg.IndexPath = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.Server.AdminPassword = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("SYNC_ON_STARTUP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.SyncOnStartup = b
		}
	}
	if v := os.Getenv("CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	// Well-known provider keys fill in whatever the config left empty.
	if cfg.Chat.APIKey == "" {
		cfg.Chat.APIKey = providerKey(cfg.Chat.Provider)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = providerKey(cfg.Embedding.Provider)
	}
}

func providerKey(provider string) string {
	switch provider {
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}
