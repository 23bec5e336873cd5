package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/app"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/repositories/postgres"
	"github.com/upb/tenantguard/services/provisioning"
	"github.com/upb/tenantguard/services/token"
)

const passwordEnv = "TENANTGUARD_USER_PASSWORD"

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadRuntime(ctx, true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			factory, err := postgres.NewRepositoryFactory(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer factory.Close()

			if err := factory.InitSchema(ctx); err != nil {
				return err
			}
			logger.Info("schema is up to date")
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Provision the RBAC permission catalog and system roles",
		Long:  "Reads RBAC_SEED_FILE, or the built-in catalog when unset. Safe to run repeatedly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), func(ctx context.Context, deps *app.Dependencies) error {
				result, err := deps.SyncCatalog(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func newKeysCommand() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage token signing keys",
	}

	var (
		outDir string
		bits   int
		force  bool
	)
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate an RSA key pair for signing tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			privPath, pubPath, err := generateKeyFiles(outDir, bits, force)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "private key: %s\npublic key:  %s\n\n", privPath, pubPath)
			fmt.Fprintf(out, "TOKEN_PRIVATE_KEY_FILE=%s\nTOKEN_PUBLIC_KEY_FILE=%s\n", privPath, pubPath)
			return nil
		},
	}
	generate.Flags().StringVar(&outDir, "out-dir", ".", "directory to write token_private.pem and token_public.pem")
	generate.Flags().IntVar(&bits, "bits", 2048, "RSA key size")
	generate.Flags().BoolVar(&force, "force", false, "overwrite existing key files")

	keys.AddCommand(generate)
	return keys
}

func generateKeyFiles(outDir string, bits int, force bool) (string, string, error) {
	if bits < 2048 {
		return "", "", fmt.Errorf("key size must be at least 2048 bits, got %d", bits)
	}
	privPath := filepath.Join(outDir, "token_private.pem")
	pubPath := filepath.Join(outDir, "token_public.pem")
	if !force {
		for _, p := range []string{privPath, pubPath} {
			if _, err := os.Stat(p); err == nil {
				return "", "", fmt.Errorf("%s already exists, use --force to overwrite", p)
			}
		}
	}

	key, err := token.GenerateKeyPair(bits)
	if err != nil {
		return "", "", err
	}
	privPEM, err := token.EncodePrivateKeyPEM(key)
	if err != nil {
		return "", "", err
	}
	pubPEM, err := token.EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write public key: %w", err)
	}
	return privPath, pubPath, nil
}

func newTenantCommand() *cobra.Command {
	tenantCmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	var in provisioning.TenantInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDependencies(cmd.Context(), func(ctx context.Context, deps *app.Dependencies) error {
				t, err := deps.Provisioning.CreateTenant(ctx, models.SystemActor(), in)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
	create.Flags().StringVar(&in.Name, "name", "", "display name")
	create.Flags().StringVar(&in.Slug, "slug", "", "unique URL-friendly identifier")
	create.Flags().StringVar(&in.Domain, "domain", "", "custom domain")
	create.Flags().IntVar(&in.RateLimit, "rate-limit", 0, "requests per window, 0 uses the default")
	create.Flags().StringVar(&in.Timezone, "timezone", "", "IANA time zone")
	create.Flags().StringVar(&in.Currency, "currency", "", "ISO 4217 currency code")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("slug")

	tenantCmd.AddCommand(create)
	return tenantCmd
}

func newUserCommand() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	var (
		tenantRef string
		in        provisioning.UserInput
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user in a tenant",
		Long:  "The password is read from " + passwordEnv + " when --password is not given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				in.Password = os.Getenv(passwordEnv)
			}
			if in.Password == "" {
				return fmt.Errorf("a password is required: pass --password or set %s", passwordEnv)
			}

			return withDependencies(cmd.Context(), func(ctx context.Context, deps *app.Dependencies) error {
				t, err := findTenant(ctx, deps, tenantRef)
				if err != nil {
					return err
				}
				in.TenantID = t.ID

				user, err := deps.Provisioning.CreateUser(ctx, models.SystemActor(), in)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), user)
			})
		},
	}
	create.Flags().StringVar(&tenantRef, "tenant", "", "tenant id or slug")
	create.Flags().StringVar(&in.Email, "email", "", "sign-in email")
	create.Flags().StringVar(&in.Name, "name", "", "display name")
	create.Flags().StringVar(&in.Password, "password", "", "initial password")
	create.Flags().StringSliceVar(&in.Roles, "role", nil, "role to assign, repeatable")
	_ = create.MarkFlagRequired("tenant")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("name")

	userCmd.AddCommand(create)
	return userCmd
}

func findTenant(ctx context.Context, deps *app.Dependencies, ref string) (*models.Tenant, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return deps.Tenants.FindByID(ctx, ref)
	}
	return deps.Tenants.FindBySlug(ctx, ref)
}

func newAuditCommand() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Maintain the audit trail",
	}
	auditCmd.AddCommand(newAuditArchiveCommand(), newAuditExportCommand())
	return auditCmd
}

func newAuditArchiveCommand() *cobra.Command {
	var (
		before    string
		olderThan time.Duration
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Delete audit entries older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoff, err := archiveCutoff(before, olderThan, time.Now())
			if err != nil {
				return err
			}
			return withDependencies(cmd.Context(), func(ctx context.Context, deps *app.Dependencies) error {
				deleted, err := deps.Audit.Archive(ctx, models.SystemActor(), cutoff)
				if err != nil {
					return err
				}
				deps.Logger.Info("audit logs archived",
					zap.Int64("deleted", deleted),
					zap.Time("before", cutoff))
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"deleted": deleted,
					"before":  cutoff,
				})
			})
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "RFC3339 cutoff")
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age cutoff, e.g. 2160h")
	cmd.MarkFlagsMutuallyExclusive("before", "older-than")
	return cmd
}

// archiveCutoff resolves the archive cutoff from exactly one of before and olderThan
func archiveCutoff(before string, olderThan time.Duration, now time.Time) (time.Time, error) {
	switch {
	case before != "":
		t, err := time.Parse(time.RFC3339, before)
		if err != nil {
			return time.Time{}, fmt.Errorf("--before must be an RFC3339 timestamp: %w", err)
		}
		return t.UTC(), nil
	case olderThan > 0:
		return now.Add(-olderThan).UTC(), nil
	default:
		return time.Time{}, errors.New("one of --before or --older-than is required")
	}
}

func newAuditExportCommand() *cobra.Command {
	var (
		tenantRef string
		category  string
		severity  string
		from, to  string
		out       string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit entries as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := exportFilter(category, severity, from, to)
			if err != nil {
				return err
			}

			return withDependencies(cmd.Context(), func(ctx context.Context, deps *app.Dependencies) error {
				if tenantRef != "" {
					t, err := findTenant(ctx, deps, tenantRef)
					if err != nil {
						return err
					}
					filter.TenantID = &t.ID
				}

				w := cmd.OutOrStdout()
				if out != "" && out != "-" {
					f, err := os.Create(out)
					if err != nil {
						return fmt.Errorf("failed to create export file: %w", err)
					}
					defer f.Close()
					w = f
				}

				rows, err := deps.Audit.Export(ctx, models.SystemActor(), w, filter)
				if err != nil {
					return err
				}
				deps.Logger.Info("audit logs exported", zap.Int("rows", rows), zap.String("out", out))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantRef, "tenant", "", "tenant id or slug, all tenants when empty")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().StringVar(&severity, "severity", "", "severity filter")
	cmd.Flags().StringVar(&from, "from", "", "RFC3339 lower bound")
	cmd.Flags().StringVar(&to, "to", "", "RFC3339 upper bound")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}

func exportFilter(category, severity, from, to string) (models.AuditFilter, error) {
	filter := models.AuditFilter{
		Category: models.AuditCategory(strings.ToLower(category)),
		Severity: models.AuditSeverity(strings.ToLower(severity)),
	}
	if filter.Category != "" && !slices.Contains(models.ValidCategories, string(filter.Category)) {
		return filter, fmt.Errorf("unknown category %q, expected one of %s", category, strings.Join(models.ValidCategories, ", "))
	}
	if filter.Severity != "" && !slices.Contains(models.ValidSeverities, string(filter.Severity)) {
		return filter, fmt.Errorf("unknown severity %q, expected one of %s", severity, strings.Join(models.ValidSeverities, ", "))
	}
	for _, b := range []struct {
		name string
		raw  string
		dst  **time.Time
	}{
		{"from", from, &filter.From},
		{"to", to, &filter.To},
	} {
		if b.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, b.raw)
		if err != nil {
			return filter, fmt.Errorf("--%s must be an RFC3339 timestamp: %w", b.name, err)
		}
		*b.dst = &t
	}
	return filter, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
