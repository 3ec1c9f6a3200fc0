package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/egehanasal/apidouble/internal/config"
	"github.com/egehanasal/apidouble/internal/domain/record"
	"github.com/egehanasal/apidouble/internal/storage"
)

// exportDoc is the interchange format, identical to the file-journal
// document.
type exportDoc struct {
	Entries []*record.RecordedEntry `json:"entries"`
}

// withStorage opens the same storage the server would use, runs fn, closes.
func withStorage(cmd *cobra.Command, configPath *string, fn func(store storage.Storage, cfg config.Config) error) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := newLogger()
	defer log.Sync()

	store, err := openStorage(cmd, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(store, cfg)
}

func newListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded entries, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, configPath, func(store storage.Storage, _ config.Config) error {
				entries, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Println("no recorded entries")
					return nil
				}
				for _, e := range entries {
					created := time.UnixMilli(e.CreatedAt).Format(time.RFC3339)
					fmt.Printf("%-32s  %-7s %-40s %3d  %s\n", e.ID, e.Request.Method, e.Request.Path, e.Response.Status, created)
				}
				return nil
			})
		},
	}
}

func newClearCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every recorded entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, configPath, func(store storage.Storage, _ config.Config) error {
				if err := store.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("cleared")
				return nil
			})
		},
	}
}

func newDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one recorded entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, configPath, func(store storage.Storage, _ config.Config) error {
				ok, err := store.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no entry with id %q", args[0])
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func newExportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Export all entries to a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, configPath, func(store storage.Storage, _ config.Config) error {
				entries, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(exportDoc{Entries: entries}, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal export: %w", err)
				}
				if err := os.WriteFile(args[0], data, 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Printf("exported %d entries to %s\n", len(entries), args[0])
				return nil
			})
		},
	}
}

func newImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import entries from a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, configPath, func(store storage.Storage, _ config.Config) error {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("read import: %w", err)
				}
				var doc exportDoc
				if err := json.Unmarshal(data, &doc); err != nil {
					return fmt.Errorf("parse import: %w", err)
				}
				for _, e := range doc.Entries {
					if _, err := store.Save(cmd.Context(), e.Request, e.Response); err != nil {
						return err
					}
				}
				fmt.Printf("imported %d entries from %s\n", len(doc.Entries), args[0])
				return nil
			})
		},
	}
}
