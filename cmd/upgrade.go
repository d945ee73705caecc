package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/nanoclaw/internal/upgrade"
	"github.com/nextlevelbuilder/nanoclaw/pkg/protocol"
)

func upgradeCmd() *cobra.Command {
	var dryRun, status bool

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Run pending data migration hooks against the sqlite database",
		Long:  "SQL schema migrations are embedded and applied automatically at startup. This command runs any Go-based data hooks registered for schema versions already applied. Safe to run multiple times (idempotent).",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status {
				return runUpgradeStatus()
			}
			return runUpgrade(dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without applying changes")
	cmd.Flags().BoolVar(&status, "status", false, "show current upgrade status")

	return cmd
}

func openDataDB() (*sql.DB, error) {
	path, err := resolveDataPath()
	if err != nil {
		return nil, err
	}
	return sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
}

func runUpgradeStatus() error {
	fmt.Printf("  App version:     %s (protocol %d)\n", Version, protocol.ProtocolVersion)

	db, err := openDataDB()
	if err != nil {
		return fmt.Errorf("open data db: %w", err)
	}
	defer db.Close()

	s, err := upgrade.CheckSchema(db)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}

	fmt.Printf("  Schema current:  %d\n", s.CurrentVersion)
	fmt.Printf("  Schema required: %d\n", s.RequiredVersion)

	if s.Dirty {
		fmt.Println("  Status:          DIRTY (failed migration)")
		fmt.Println()
		fmt.Print(upgrade.FormatError(s))
		return nil
	}
	if s.Compatible {
		fmt.Println("  Status:          UP TO DATE")
	} else {
		fmt.Printf("  Status:          SCHEMA OUT OF DATE (run nanoclaw once to auto-apply, v%d -> v%d)\n", s.CurrentVersion, s.RequiredVersion)
	}

	pending, err := upgrade.PendingHooks(context.Background(), db)
	if err != nil {
		slog.Debug("could not check pending data hooks", "error", err)
	} else if len(pending) > 0 {
		fmt.Printf("\n  Pending data hooks: %d\n", len(pending))
		for _, name := range pending {
			fmt.Printf("    - %s\n", name)
		}
	} else {
		fmt.Println("\n  No pending data hooks.")
	}

	return nil
}

func runUpgrade(dryRun bool) error {
	db, err := openDataDB()
	if err != nil {
		return fmt.Errorf("open data db: %w", err)
	}
	defer db.Close()

	s, err := upgrade.CheckSchema(db)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}

	fmt.Printf("  App version:     %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  Schema current:  %d\n", s.CurrentVersion)
	fmt.Printf("  Schema required: %d\n", s.RequiredVersion)
	fmt.Println()

	if s.Dirty || s.CurrentVersion > s.RequiredVersion {
		fmt.Print(upgrade.FormatError(s))
		return ErrUpgradeFailed
	}
	if s.NeedsMigration {
		fmt.Println("  SQL schema is not yet applied — start nanoclaw once to apply it automatically, then re-run this command for data hooks.")
		return nil
	}

	pending, err := upgrade.PendingHooks(context.Background(), db)
	if err != nil {
		return fmt.Errorf("check pending hooks: %w", err)
	}

	if dryRun {
		if len(pending) == 0 {
			fmt.Println("  No pending data hooks.")
			return nil
		}
		fmt.Printf("  Would run %d data hook(s):\n", len(pending))
		for _, name := range pending {
			fmt.Printf("    - %s\n", name)
		}
		return nil
	}

	fmt.Print("  Running data hooks... ")
	count, err := upgrade.RunPendingHooks(context.Background(), db)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("data hooks: %w", err)
	}
	if count > 0 {
		fmt.Printf("%d applied\n", count)
	} else {
		fmt.Println("none pending")
	}

	fmt.Println()
	fmt.Println("  Upgrade complete.")
	return nil
}

// ErrUpgradeFailed is returned when upgrade cannot proceed.
var ErrUpgradeFailed = errors.New("upgrade cannot proceed")
