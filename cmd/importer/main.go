// Command importer loads a curriculum workbook into the catalog and
// optionally rebuilds the semantic index afterwards.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"

	anerkennung "github.com/jonathanglasmeyer/haw-modul-anerkennung"
	"github.com/jonathanglasmeyer/haw-modul-anerkennung/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	file := flag.String("file", "", "path to the curriculum .xlsx workbook")
	sync := flag.Bool("sync", true, "rebuild the semantic index after import")
	logMode := flag.String("log", "dev", "log mode: prod or dev")
	flag.Parse()

	_ = godotenv.Load()

	log, err := logging.New(*logMode)
	if err != nil {
		os.Stderr.WriteString("logger init: " + err.Error() + "\n")
		os.Exit(1)
	}

	if *file == "" {
		log.Fatal("missing -file argument")
	}

	cfg := anerkennung.DefaultConfig()
	if *configPath != "" {
		cfg, err = anerkennung.LoadConfig(*configPath)
		if err != nil {
			log.Fatal("loading config", "error", err)
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = v
		cfg.Chat.APIKey = v
	}

	svc, err := anerkennung.New(cfg, log)
	if err != nil {
		log.Fatal("creating service", "error", err)
	}
	defer svc.Close()

	ctx := context.Background()
	stats, err := svc.Catalog().ImportXLSX(ctx, *file)
	if err != nil {
		log.Fatal("import failed", "error", err)
	}
	log.Info("import complete",
		"modules", stats.Modules,
		"units", stats.Units,
		"persons", stats.Persons,
	)

	if *sync {
		count, err := svc.Reconcile(ctx, true)
		if err != nil {
			log.Fatal("index rebuild failed", "error", err)
		}
		log.Info("index rebuilt", "indexed_units", count)
	}
}
