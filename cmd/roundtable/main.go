package main

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roundtablehq/roundtable/config"
	"github.com/roundtablehq/roundtable/corpus"
	"github.com/roundtablehq/roundtable/internal/engine"
	"github.com/roundtablehq/roundtable/internal/server"
	"github.com/roundtablehq/roundtable/internal/telemetry"
	"github.com/roundtablehq/roundtable/models"
	"github.com/roundtablehq/roundtable/provider"
)

func main() {
	var cfgPath string

	root := &cobra.Command{Use: "roundtable"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.Run(config.LoadConfig(cfgPath))
		},
	}

	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			question := strings.Join(args, " ")
			logger := log.New(log.Writer(), "[ASK] ", log.LstdFlags)

			prov, err := provider.NewProvider(cfg.LLM, logger)
			if err != nil {
				return err
			}
			index, err := newIndex(cfg, prov, logger)
			if err != nil {
				return err
			}
			if path := cfg.Retrieval.SnapshotPath; path != "" {
				if err := index.Load(path); err != nil {
					logger.Printf("corpus snapshot %s not loaded: %v", path, err)
				}
			}
			tel := telemetry.NewTelemetry(cfg.Telemetry)
			defer tel.Shutdown()

			orch, err := engine.New(cfg, prov, index, tel, logger)
			if err != nil {
				return err
			}

			answer := orch.Answer(cmd.Context(), models.NewQuery(question, nil))
			fmt.Println(answer.Text)
			fmt.Printf("\n[pipeline=%s score=%.2f fallback=%t units=%.1f duration=%s]\n",
				answer.Pipeline, answer.Score, answer.Fallback, answer.UnitsSpent,
				answer.Duration.Round(time.Millisecond))
			if cfg.Telemetry.CostTracking {
				costs := tel.GetCostSummary()
				fmt.Printf("[cost=$%.4f tokens=%d]\n", costs.TotalCost, costs.TotalTokens)
			}
			return nil
		},
	}

	var docsDir string
	index := &cobra.Command{
		Use:   "index",
		Short: "Ingest documents and write the corpus snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			logger := log.New(log.Writer(), "[INDEX] ", log.LstdFlags)

			dir := docsDir
			if dir == "" {
				dir = cfg.Retrieval.DocsDir
			}
			if dir == "" {
				return fmt.Errorf("no documents directory: set --docs or retrieval.docs_dir")
			}
			snapshot := cfg.Retrieval.SnapshotPath
			if snapshot == "" {
				return fmt.Errorf("retrieval.snapshot_path required")
			}

			docs, err := loadDocuments(dir)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return fmt.Errorf("no .txt or .md documents under %s", dir)
			}

			prov, err := provider.NewProvider(cfg.LLM, logger)
			if err != nil {
				return err
			}
			ix, err := newIndex(cfg, prov, logger)
			if err != nil {
				return err
			}
			start := time.Now()
			if err := ix.AddDocuments(cmd.Context(), docs); err != nil {
				return err
			}
			if err := ix.Save(snapshot); err != nil {
				return err
			}
			logger.Printf("indexed %d documents (%d chunks) in %s -> %s",
				len(docs), ix.Len(), time.Since(start).Round(time.Millisecond), snapshot)
			return nil
		},
	}
	index.Flags().StringVar(&docsDir, "docs", "", "documents directory (overrides retrieval.docs_dir)")

	var migDir string
	var direction string
	var steps int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			return server.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	root.AddCommand(serve, ask, index, migrateCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newIndex(cfg *config.Config, prov provider.Provider, logger *log.Logger) (*corpus.Index, error) {
	return corpus.New(prov, corpus.NewTokenizer(cfg.LLM.Encoding), corpus.Config{
		ChunkTokens:  cfg.Retrieval.ChunkTokens,
		ChunkOverlap: cfg.Retrieval.ChunkOverlap,
		Workers:      cfg.Retrieval.IngestWorkers,
	}, logger)
}

func loadDocuments(dir string) ([]corpus.Document, error) {
	var docs []corpus.Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
		default:
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = d.Name()
		}
		docs = append(docs, corpus.Document{Name: rel, Text: string(data)})
		return nil
	})
	return docs, err
}
