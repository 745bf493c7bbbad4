package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docdesk/internal/config"
	"github.com/kirillkom/docdesk/internal/infrastructure/repository/postgres"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the docdesk postgres schema",
		SilenceUsage: true,
	}
	for _, direction := range []struct {
		name  string
		short string
	}{
		{"up", "Apply all pending migrations"},
		{"down", "Roll back the latest migration"},
		{"status", "Print migration status"},
	} {
		root.AddCommand(&cobra.Command{
			Use:   direction.name,
			Short: direction.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd, direction.name)
			},
		})
	}
	return root
}

func migrate(cmd *cobra.Command, direction string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	if err := postgres.Migrate(cmd.Context(), db, direction); err != nil {
		return err
	}
	cmd.Printf("migrate %s: ok\n", direction)
	return nil
}
