package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/brendenrossin/secondbrain/internal/chunk"
	"github.com/brendenrossin/secondbrain/internal/config"
	"github.com/brendenrossin/secondbrain/internal/embed"
	"github.com/brendenrossin/secondbrain/internal/index"
	"github.com/brendenrossin/secondbrain/internal/llm"
	"github.com/brendenrossin/secondbrain/internal/search"
	"github.com/brendenrossin/secondbrain/internal/store"
	"github.com/brendenrossin/secondbrain/internal/vault"
)

// app bundles the wired components every command needs.
type app struct {
	cfg        *config.Config
	connector  *vault.Connector
	lexical    *store.SQLiteStore
	vectors    *store.VectorStore
	provider   embed.Provider
	vectorPath string
}

// openApp loads config and opens both stores and the embedding
// provider. On an identity mismatch between the persisted vectors and
// the configured provider it warns and continues; a deliberate full
// reindex resolves the mismatch.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(vaultRoot)
	if err != nil {
		return nil, err
	}

	connector, err := vault.NewConnector(cfg.Vault.Root, cfg.Vault.Exclude)
	if err != nil {
		return nil, err
	}

	provider, err := embed.NewProvider(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}

	lexical, err := store.NewSQLiteStore(filepath.Join(cfg.Vault.DataDir, "index.db"))
	if err != nil {
		provider.Close()
		return nil, err
	}

	identity := embed.IdentityOf(cfg.Embedding.Provider, provider)
	vectorPath := filepath.Join(cfg.Vault.DataDir, "vectors.hnsw")

	vectors, err := store.NewVectorStore(identity)
	if err != nil {
		lexical.Close()
		provider.Close()
		return nil, err
	}

	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := vectors.Load(vectorPath); err != nil {
			vectors.Close()
			lexical.Close()
			provider.Close()
			return nil, fmt.Errorf("failed to load vector store: %w", err)
		}
		if !vectors.CheckIdentity(identity) {
			persisted := vectors.Identity()
			slog.Warn("embedding identity mismatch, reindex to rebuild vectors",
				slog.String("persisted", fmt.Sprintf("%s/%s/%d", persisted.Provider, persisted.Model, persisted.Dimensions)),
				slog.String("configured", fmt.Sprintf("%s/%s/%d", identity.Provider, identity.Model, identity.Dimensions)))
			fmt.Fprintf(os.Stderr, "warning: index was built with %s/%s (%dd), config now selects %s/%s (%dd); run 'secondbrain index --rebuild'\n",
				persisted.Provider, persisted.Model, persisted.Dimensions,
				identity.Provider, identity.Model, identity.Dimensions)
		}
	}

	return &app{
		cfg:        cfg,
		connector:  connector,
		lexical:    lexical,
		vectors:    vectors,
		provider:   provider,
		vectorPath: vectorPath,
	}, nil
}

// Close releases everything openApp opened.
func (a *app) Close() {
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.lexical != nil {
		_ = a.lexical.Close()
	}
	if a.provider != nil {
		_ = a.provider.Close()
	}
}

// newSyncer wires the incremental sync engine.
func (a *app) newSyncer() *index.Syncer {
	chunker := chunk.New(chunk.Options{
		TargetChars:  a.cfg.Chunking.TargetChars,
		OverlapChars: a.cfg.Chunking.OverlapChars,
	})
	return index.NewSyncer(a.connector, chunker, a.provider, a.lexical, a.vectors, a.vectorPath)
}

// newRetriever wires the hybrid retriever.
func (a *app) newRetriever() *search.Retriever {
	return search.NewRetriever(a.lexical, a.vectors, a.provider, search.RetrieverConfig{
		LexicalK:    a.cfg.Retrieval.LexicalK,
		VectorK:     a.cfg.Retrieval.VectorK,
		RRFConstant: a.cfg.Retrieval.RRFConstant,
	})
}

// newChatClient wires the chat backend used for rerank and synthesis.
func (a *app) newChatClient() (llm.ChatClient, error) {
	return llm.NewClient(llm.Config{
		Model:   a.cfg.Answer.Model,
		Timeout: a.cfg.Answer.Timeout,
	})
}

// lock acquires the single-writer indexing lock.
func (a *app) lock() (*index.WriterLock, error) {
	l := index.NewWriterLock(a.cfg.Vault.DataDir, a.cfg.Vault.LockStaleAfter)
	if err := l.Acquire(); err != nil {
		return nil, err
	}
	return l, nil
}
