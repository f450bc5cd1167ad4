package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/physical-ai/textbook-rag/config"
	"github.com/physical-ai/textbook-rag/internal/ingest"
	srv "github.com/physical-ai/textbook-rag/internal/server"
	openai_provider "github.com/physical-ai/textbook-rag/provider/openai"
)

func ingestCMD() *cobra.Command {
	var cfgPath string
	var docsDir string
	var reset bool
	var cmd = &cobra.Command{
		Use:   "ingest",
		Short: "Chunk, embed and store the textbook markdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.LLM.Validate(); err != nil {
				return err
			}
			if err := cfg.Storage.Validate(); err != nil {
				return err
			}
			if docsDir == "" {
				docsDir = cfg.Ingest.DocsDir
			}

			ctx := context.Background()
			store, err := srv.OpenVectorStore(ctx, cfg)
			if err != nil {
				return err
			}
			llm := openai_provider.NewClient(openai_provider.Config{
				BaseURL:        cfg.LLM.BaseURL,
				APIKey:         cfg.LLM.APIKey,
				EmbeddingModel: cfg.LLM.EmbeddingModel,
				Dimensions:     cfg.LLM.EmbeddingDimensions,
				Timeout:        cfg.LLM.Timeout,
				MaxRetries:     cfg.LLM.MaxRetries,
			})

			job := ingest.NewJob(llm, store, ingest.Options{
				DocsDir:   docsDir,
				BatchSize: cfg.Ingest.BatchSize,
				Reset:     reset,
				Chunker: ingest.ChunkerOptions{
					MaxChars:     cfg.Ingest.ChunkChars,
					OverlapChars: cfg.Ingest.OverlapChars,
				},
			})
			stored, err := job.Run(ctx)
			if err != nil {
				return err
			}
			log.Printf("ingestion complete: %d chunks stored", stored)
			return nil
		},
	}
	cmd.Flags().StringVar(&docsDir, "docs", "", "documentation directory (default from config)")
	cmd.Flags().BoolVar(&reset, "reset", false, "drop existing chunks before ingesting")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
