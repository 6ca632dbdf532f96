package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/inkwell-tools/signsync/pkg/config"
	"github.com/inkwell-tools/signsync/pkg/directory"
	"github.com/inkwell-tools/signsync/pkg/engine"
	"github.com/inkwell-tools/signsync/pkg/sign"
	"github.com/inkwell-tools/signsync/pkg/telemetry"
	"github.com/inkwell-tools/signsync/pkg/version"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass against every configured org",
	Long: `Reads a fresh directory snapshot and each org's sign roster, then creates,
updates, or deactivates sign users until they match the configured policy.

Example:
  signsync sync --config sign-sync-config.yml
  signsync sync --test-mode`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(cfgFile)
		if err != nil {
			return err
		}

		logger := newLogger(cfg)
		slog.SetDefault(logger)

		ctx := cmd.Context()
		shutdown, err := telemetry.Init(ctx, version.AppName, version.Current, otelEndpoint)
		if err != nil {
			logger.Warn("Telemetry failed", "error", err)
		} else {
			defer shutdown(ctx)
		}

		eng, dir, err := buildEngine(cfg, logger)
		if err != nil {
			return err
		}

		runErr := eng.Run(ctx, dir)
		if runErr != nil && !errors.Is(runErr, engine.ErrPartialSync) {
			return runErr
		}

		if err := writeArtifacts(eng); err != nil {
			logger.Warn("Failed to write run artifacts", "error", err)
		}
		for action, count := range eng.Report().Summary() {
			logger.Info("Run summary", "action", string(action), "count", count)
		}

		if runErr != nil {
			logger.Error("Sync finished with failed orgs", "error", runErr)
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

// buildEngine wires connectors and the engine from the loaded configuration.
func buildEngine(cfg *config.File, logger *slog.Logger) (*engine.Engine, directory.Connector, error) {
	connectors := make(map[string]sign.Connector, len(cfg.SignOrgs))
	for org := range cfg.SignOrgs {
		clientCfg, err := cfg.SignConfig(org)
		if err != nil {
			return nil, nil, err
		}
		client, err := sign.NewClient(clientCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("org %q: %w", org, err)
		}
		connectors[org] = client
	}

	src, err := cfg.DirectoryConfig()
	if err != nil {
		return nil, nil, err
	}
	dir := directory.NewCSVConnector(src.FilePath)

	scope := cfg.Users()
	if userScope != "" {
		scope = userScope
	}

	eng, err := engine.New(engine.Options{
		UserGroups:              cfg.UserGroups,
		EntitlementGroups:       cfg.EntitlementGroups,
		IdentityTypes:           cfg.IdentityTypes,
		AdminRoles:              cfg.AdminRoles,
		CreateNewUsers:          cfg.UserSync.CreateNewUsers,
		DeactivateSignOnlyUsers: cfg.UserSync.DeactivateSignOnlyUsers,
		TestMode:                testMode,
		UserScope:               scope,
		UserFilter:              cfg.UserSync.UserFilter,
	}, connectors, engine.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return eng, dir, nil
}

func newLogger(cfg *config.File) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.ConsoleLogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if jsonLogs || cfg.Logging.JSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func writeArtifacts(eng *engine.Engine) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	if err := eng.Report().GenerateCSV(filepath.Join(outputDir, "decisions.csv")); err != nil {
		return err
	}
	return eng.Report().GenerateJSON(filepath.Join(outputDir, "decisions.json"))
}
