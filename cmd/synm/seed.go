package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ky13/synm/internal/retrieval"
)

var (
	seedChromemPath string
	seedCollection  string
)

// seedCmd loads documents into the local stores.
var seedCmd = &cobra.Command{
	Use:   "seed <documents.yaml>",
	Short: "Load documents into the embedded stores",
	Long: `Index a YAML document set into the embedded chromem store and the
structured store, the same loader synmd runs at startup when
retrieval.seed_path is set.

Examples:
  synm seed ./data/vault.yaml --chromem ./data/chromem
  synm seed ./data/vault.yaml --chromem ./data/chromem --collection synm_vault`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := quietLogger()
		if err != nil {
			return err
		}

		embedder := retrieval.NewLocalEmbedder(retrieval.DefaultVectorSize)
		vector, err := retrieval.NewChromemStore(retrieval.ChromemConfig{
			Path:       seedChromemPath,
			Collection: seedCollection,
		}, embedder, log)
		if err != nil {
			return fmt.Errorf("opening chromem store: %w", err)
		}
		defer vector.Close()

		structured := retrieval.NewStructuredStore()

		n, err := retrieval.Seed(cmd.Context(), args[0], vector, structured, log)
		if err != nil {
			return fmt.Errorf("seeding failed: %w", err)
		}

		fmt.Printf("Indexed %d documents\n", n)
		if tables := structured.Tables(); len(tables) > 0 {
			fmt.Printf("Structured tables: %v (in-memory, re-seeded by synmd at startup)\n", tables)
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedChromemPath, "chromem", "./data/chromem", "chromem persistence directory")
	seedCmd.Flags().StringVar(&seedCollection, "collection", "", "collection name (default synm_vault)")
}
