package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/app"
	"github.com/upb/tenantguard/config"
	"github.com/upb/tenantguard/internal/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tenantguard",
		Short: "Multi-tenant authentication and access control for restaurant SaaS",
		Long: `tenantguard issues and verifies tenant-scoped tokens, resolves the tenant
of every request, enforces per-tenant rate limits and role based access
control, and keeps an audit trail of security relevant events.

Configuration is read from the environment (and a .env file when present).`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newSeedCommand(),
		newKeysCommand(),
		newTenantCommand(),
		newUserCommand(),
		newAuditCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of tenantguard",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tenantguard version %s\n", version)
		},
	}
}

// loadRuntime reads configuration and builds the logger. Admin commands keep
// stdout for their own output, so their logs go to stderr.
func loadRuntime(ctx context.Context, admin bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	if admin && (cfg.Observability.LogOutput == "" || cfg.Observability.LogOutput == "stdout") {
		cfg.Observability.LogOutput = "stderr"
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// withDependencies runs fn against fully wired dependencies and closes them afterwards
func withDependencies(ctx context.Context, fn func(ctx context.Context, deps *app.Dependencies) error) error {
	cfg, logger, err := loadRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(ctx)

	return fn(ctx, deps)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
