package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoclaw/internal/config"
	"github.com/nextlevelbuilder/nanoclaw/internal/store"
)

// migrateCmd groups the schema subcommands: "version" reports schema status
// and "apply" opens the store once to apply pending migrations. Migrations
// are embedded in the binary and applied automatically on every
// store.Open — there is no "up"/"down" step, since the sqlite schema has no
// external database to coordinate against.
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema management",
	}
	cmd.AddCommand(migrateVersionCmd())
	cmd.AddCommand(migrateApplyCmd())
	return cmd
}

func resolveDataPath() (string, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.DataDirPath() + "/nanoclaw.db", nil
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the currently applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveDataPath()
			if err != nil {
				return err
			}
			v, dirty, err := store.Version(path)
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Printf("version: %d, dirty: %v\n", v, dirty)
			return nil
		},
	}
}

func migrateApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Apply any pending migrations now (normally done automatically at startup)",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveDataPath()
			if err != nil {
				return err
			}
			st, err := store.Open(path)
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			defer st.Close()
			fmt.Println("schema up to date")
			return nil
		},
	}
}
