package main

import (
	"encoding/json"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/store"
)

// MigrationStatus holds the schema status reported by the status command.
type MigrationStatus struct {
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
	Pending []uint `json:"pending,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database schema status",
		Long:  `Show the applied migration version and any pending migrations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	appCfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}
	if appCfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.url or DATABASE_URL is required")
	}

	migrator, err := store.NewMigrator(appCfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() {
		_ = migrator.Close() //nolint:errcheck // best effort on exit
	}()

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	pending, err := migrator.PendingMigrations()
	if err != nil {
		return err
	}

	status := MigrationStatus{Version: version, Dirty: dirty, Pending: pending}

	if cfg.jsonOutput {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return oops.With("operation", "marshal status").Wrap(err)
		}
		cmd.Println(string(out))
		return nil
	}

	cmd.Printf("schema version: %d (dirty: %v)\n", status.Version, status.Dirty)
	if len(status.Pending) == 0 {
		cmd.Println("pending migrations: none")
	} else {
		cmd.Printf("pending migrations: %v\n", status.Pending)
	}
	return nil
}
