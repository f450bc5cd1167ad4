package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/physical-ai/textbook-rag/internal/vectorstore"
	"github.com/physical-ai/textbook-rag/provider"
)

// Options configures one ingestion run over a documentation tree.
type Options struct {
	DocsDir   string
	BatchSize int
	Reset     bool
	Chunker   ChunkerOptions
}

// Job walks a directory of markdown files, chunks them, embeds the chunks
// in batches and upserts them into the vector store. Chunk ids are derived
// from the file path and chunk ordinal, so re-running ingestion over the
// same tree replaces rather than duplicates.
type Job struct {
	provider provider.Provider
	store    vectorstore.Store
	opts     Options
	logger   *log.Logger
}

func NewJob(p provider.Provider, store vectorstore.Store, opts Options) *Job {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	return &Job{
		provider: p,
		store:    store,
		opts:     opts,
		logger:   log.New(log.Writer(), "[INGEST] ", log.LstdFlags),
	}
}

// Run executes the ingestion and returns the number of chunks stored.
func (j *Job) Run(ctx context.Context) (int, error) {
	if j.opts.Reset {
		j.logger.Printf("resetting vector store before ingestion")
		if err := j.store.Reset(ctx); err != nil {
			return 0, fmt.Errorf("resetting store: %w", err)
		}
	}

	chunks, err := j.collect()
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		j.logger.Printf("no markdown documents found under %s", j.opts.DocsDir)
		return 0, nil
	}
	j.logger.Printf("embedding %d chunks in batches of %d", len(chunks), j.opts.BatchSize)

	stored := 0
	for start := 0; start < len(chunks); start += j.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		end := start + j.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := j.provider.CreateEmbedding(ctx, texts)
		if err != nil {
			return stored, fmt.Errorf("embedding batch at %d: %w", start, err)
		}
		for i := range batch {
			batch[i].Vector = vecs[i]
		}
		if err := j.store.Upsert(ctx, batch); err != nil {
			return stored, fmt.Errorf("upserting batch at %d: %w", start, err)
		}
		stored += len(batch)
		j.logger.Printf("stored %d/%d chunks", stored, len(chunks))
	}
	return stored, nil
}

// collect walks the docs tree and produces unembedded chunks.
func (j *Job) collect() ([]vectorstore.Chunk, error) {
	var chunks []vectorstore.Chunk
	err := filepath.WalkDir(j.opts.DocsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != j.opts.DocsDir {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".mdx" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		rel, err := filepath.Rel(j.opts.DocsDir, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		for i, text := range SplitDocument(string(data), j.opts.Chunker) {
			chunks = append(chunks, vectorstore.Chunk{
				ID:      fmt.Sprintf("%s#%d", rel, i),
				Source:  rel,
				Ordinal: i,
				Text:    text,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", j.opts.DocsDir, err)
	}
	return chunks, nil
}
