package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brendenrossin/secondbrain/internal/config"
	"github.com/brendenrossin/secondbrain/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index state and embedding identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context())
		},
	}
}

// runStatus reads state without constructing an embedding provider, so
// it works even when the configured backend is unreachable.
func runStatus(ctx context.Context) error {
	cfg, err := config.Load(vaultRoot)
	if err != nil {
		return err
	}

	lexical, err := store.NewSQLiteStore(filepath.Join(cfg.Vault.DataDir, "index.db"))
	if err != nil {
		return err
	}
	defer lexical.Close()

	records, err := lexical.AllIndexRecords(ctx)
	if err != nil {
		return err
	}
	chunks, err := lexical.ChunkCount(ctx)
	if err != nil {
		return err
	}

	provider, _ := lexical.GetState(ctx, store.StateKeyEmbeddingProvider)
	model, _ := lexical.GetState(ctx, store.StateKeyEmbeddingModel)
	dims, _ := lexical.GetState(ctx, store.StateKeyEmbeddingDimensions)

	fmt.Printf("vault:     %s\n", cfg.Vault.Root)
	fmt.Printf("data dir:  %s\n", cfg.Vault.DataDir)
	fmt.Printf("notes:     %d tracked\n", len(records))
	fmt.Printf("chunks:    %d\n", chunks)

	if provider == "" {
		fmt.Println("embedding: not yet indexed")
	} else {
		fmt.Printf("embedding: %s/%s (%s dimensions)\n", provider, model, dims)
	}

	persisted, err := store.ReadVectorStoreIdentity(filepath.Join(cfg.Vault.DataDir, "vectors.hnsw"))
	if err == nil && persisted.Provider != "" &&
		(persisted.Provider != cfg.Embedding.Provider || persisted.Model != cfg.Embedding.Model) {
		fmt.Printf("warning:   config selects %s/%s but vectors were built with %s/%s\n",
			cfg.Embedding.Provider, cfg.Embedding.Model, persisted.Provider, persisted.Model)
	}

	var newest string
	for path, rec := range records {
		if newest == "" || rec.LastIndexedAt.After(records[newest].LastIndexedAt) {
			newest = path
		}
	}
	if newest != "" {
		fmt.Printf("last sync: %s (%s)\n",
			records[newest].LastIndexedAt.Format("2006-01-02 15:04:05"), newest)
	}

	return nil
}
