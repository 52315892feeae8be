// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/kadirpekel/docrag/pkg/docs"
	"github.com/kadirpekel/docrag/pkg/document"
	"github.com/kadirpekel/docrag/pkg/extract"
	"github.com/kadirpekel/docrag/pkg/rag"
	"github.com/kadirpekel/docrag/pkg/server"
	"github.com/kadirpekel/docrag/pkg/utils"
)

// OwnerFlag is shared by commands acting on behalf of a user.
type OwnerFlag struct {
	Owner string `short:"o" help:"Owner ID the documents belong to." env:"DOCRAG_OWNER" default:"local"`
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func withApp(cli *CLI, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		cfg := a.cfg.Server
		if c.Port != 0 {
			cfg.Port = c.Port
		}

		srv := server.New(cfg, a.manager,
			server.WithExtractor(extract.NewRegistry()),
			server.WithStats(a.stats),
			server.WithObservability(a.metrics, a.tracer),
			server.WithVersion(version()))

		fmt.Printf("docrag %s listening on http://%s\n", version(), cfg.Address())
		fmt.Printf("   Storage:      %s\n", a.cfg.Storage.Backend)
		fmt.Printf("   Vector store: %s\n", a.cfg.VectorStore.Type)
		fmt.Printf("   Embedder:     %s/%s\n", a.cfg.Embedder.Provider, a.cfg.Embedder.Model)
		fmt.Printf("   LLM:          %s\n", a.cfg.LLM.Model)
		if a.metrics != nil {
			fmt.Printf("   Metrics:      http://%s/metrics\n", cfg.Address())
		}
		fmt.Println("\nPress Ctrl+C to stop")

		return srv.ListenAndServe(ctx)
	})
}

// IngestCmd creates documents from files.
type IngestCmd struct {
	OwnerFlag
	Files []string `arg:"" help:"Files to ingest." type:"existingfile"`
	ID    string   `help:"Document ID (single file only; generated when empty)."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	if c.ID != "" && len(c.Files) > 1 {
		return errors.New("--id can only be used with a single file")
	}
	registry := extract.NewRegistry()

	return withApp(cli, func(ctx context.Context, a *app) error {
		var failed int
		for _, path := range c.Files {
			res, err := registry.ExtractFile(ctx, path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
				continue
			}

			doc, err := a.manager.Create(ctx, docs.CreateRequest{
				ID:         c.ID,
				OwnerID:    c.Owner,
				SourceName: filepath.Base(path),
				Text:       res.Text,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
				if doc == nil {
					continue
				}
			}
			if err := printJSON(doc); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(c.Files))
		}
		return nil
	})
}

// AskCmd answers a question about a document.
type AskCmd struct {
	OwnerFlag
	DocumentID string `arg:"" name:"document-id" help:"Document to ask about."`
	Question   string `arg:"" help:"The question."`
	MaxTokens  int    `name:"max-context-tokens" help:"Context budget for retrieval (0 = config default)."`
	JSON       bool   `help:"Print the full answer as JSON."`
}

func (c *AskCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		answer, err := a.manager.Ask(ctx, docs.AskRequest{
			DocumentID:       c.DocumentID,
			OwnerID:          c.Owner,
			Question:         c.Question,
			MaxContextTokens: c.MaxTokens,
		})
		if answer == nil {
			return err
		}
		if c.JSON {
			if perr := printJSON(answer); perr != nil {
				return perr
			}
			return err
		}

		fmt.Println(answer.Answer)
		fmt.Fprintf(os.Stderr, "\n[%s, %d chunks, %d context tokens, %s]\n",
			answer.Method, answer.ChunksUsed, answer.ContextTokens, answer.ProcessingTime.Round(time.Millisecond))
		return err
	})
}

// DeleteCmd removes documents.
type DeleteCmd struct {
	OwnerFlag
	DocumentIDs []string `arg:"" name:"document-id" help:"Documents to delete."`
}

func (c *DeleteCmd) Run(cli *CLI) error {
	return withApp(cli, func(ctx context.Context, a *app) error {
		var errs []error
		for _, id := range c.DocumentIDs {
			if err := a.manager.Delete(ctx, id, c.Owner); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				continue
			}
			fmt.Printf("deleted %s\n", id)
		}
		return errors.Join(errs...)
	})
}

// ClassifyCmd reports token counts and the short/long class of files.
// It needs no embedder, LLM or storage.
type ClassifyCmd struct {
	Files     []string `arg:"" help:"Files to classify." type:"existingfile"`
	Threshold int      `help:"Largest token count still classified as short (0 = config value)."`
}

func (c *ClassifyCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	threshold := cfg.RAG.ShortLongTokenThreshold
	if c.Threshold > 0 {
		threshold = c.Threshold
	}
	classifier := document.NewClassifier(threshold, utils.NewTokenizer(cfg.RAG.TokenizerModel))
	registry := extract.NewRegistry()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tFORMAT\tTOKENS\tTYPE")
	for _, path := range c.Files {
		res, err := registry.ExtractFile(context.Background(), path)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\terror: %v\n", path, err)
			continue
		}
		docType, tokens := classifier.ClassifyText(res.Text)
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", path, res.Format, tokens, docType)
	}
	return w.Flush()
}

// ChunkCmd prints the chunks a file would produce.
type ChunkCmd struct {
	File         string `arg:"" help:"File to chunk." type:"existingfile"`
	ChunkSize    int    `help:"Target chunk size in tokens (0 = config value)."`
	ChunkOverlap int    `help:"Overlap in tokens (0 = config value)."`
	JSON         bool   `help:"Print chunks as JSON."`
}

func (c *ChunkCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli.Config)
	if err != nil {
		return err
	}
	chunkCfg := chunkerConfig(&cfg.RAG)
	if c.ChunkSize > 0 {
		chunkCfg.ChunkSize = c.ChunkSize
		chunkCfg.ChunkOverlap = 0
		chunkCfg.MinChunkTokens = 0
	}
	if c.ChunkOverlap > 0 {
		chunkCfg.ChunkOverlap = c.ChunkOverlap
	}

	res, err := extract.NewRegistry().ExtractFile(context.Background(), c.File)
	if err != nil {
		return err
	}

	name := filepath.Base(c.File)
	chunks, err := rag.NewRecursiveChunker(chunkCfg, utils.NewTokenizer(cfg.RAG.TokenizerModel)).
		Chunk(res.Text, name, name)
	if err != nil {
		return err
	}
	if c.JSON {
		return printJSON(chunks)
	}

	for _, ch := range chunks {
		fmt.Printf("--- %s (%d tokens) ---\n%s\n\n", ch.ID, ch.TokenCount, ch.Text)
	}
	fmt.Fprintf(os.Stderr, "%d chunks\n", len(chunks))
	return nil
}
