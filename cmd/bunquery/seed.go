package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunquery/internal/emulator"
	"github.com/kartikbazzad/bunquery/pkg/logger"
)

func newSeedCmd() *cobra.Command {
	var (
		collection string
		count      int
		schemaFile string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write sample documents into the emulator data file",
		Long:  "Write sample documents into the emulator data file. The file must not be held open by a running server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(filepath.Dir(cfg.Emulator.Path), 0o755); err != nil {
				return err
			}
			store, err := emulator.Open(cfg.Emulator, logger.Get())
			if err != nil {
				return err
			}
			defer store.Close()

			parent := cfg.Session.DocumentsPath()
			if schemaFile != "" {
				schema, err := os.ReadFile(schemaFile)
				if err != nil {
					return err
				}
				if err := store.SetSchema(parent, collection, schema); err != nil {
					return err
				}
			}

			start := time.Now()
			for i := 0; i < count; i++ {
				_, err := store.Put(parent, collection, fmt.Sprintf("doc-%06d", i), map[string]interface{}{
					"n":    i,
					"name": fmt.Sprintf("item %d", i),
					"even": i%2 == 0,
					"tags": []string{"seed", fmt.Sprintf("bucket-%d", i%10)},
				})
				if err != nil {
					return fmt.Errorf("document %d: %w", i, err)
				}
			}
			fmt.Printf("Seeded %d documents into %s/%s in %v\n", count, parent, collection, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "items", "Collection ID")
	cmd.Flags().IntVar(&count, "count", 1000, "Number of documents")
	cmd.Flags().StringVar(&schemaFile, "schema", "", "JSON schema file enforced on the collection")
	return cmd
}
