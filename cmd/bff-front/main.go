package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/dgellow/bff-front/internal"
	"github.com/dgellow/bff-front/internal/config"
	"github.com/dgellow/bff-front/internal/log"
)

var BuildVersion = "dev"

func defaultConfig() map[string]any {
	return map[string]any{
		"version": config.VersionPrefix,
		"server": map[string]any{
			"baseURL":     "https://bff.yourcompany.com",
			"addr":        ":8080",
			"frontendURL": "https://app.yourcompany.com",
		},
		"entra": map[string]any{
			"provider":           "azure",
			"tenantId":           map[string]string{"$env": "ENTRA_TENANT_ID"},
			"tenantSubdomain":    "yourcompany",
			"clientId":           map[string]string{"$env": "ENTRA_CLIENT_ID"},
			"clientSecret":       map[string]string{"$env": "ENTRA_CLIENT_SECRET"},
			"nativeAuthClientId": map[string]string{"$env": "ENTRA_NATIVE_CLIENT_ID"},
			"apiScope":           "api://yourcompany-api/access_as_user",
		},
		"session": map[string]any{
			"ttl":               "8h",
			"slidingExpiration": true,
			"encryptionKey":     map[string]string{"$env": "SESSION_ENCRYPTION_KEY"},
			"storage":           "memory",
		},
		"downstream": map[string]any{
			"timeout": "30s",
			"routes": []any{
				map[string]any{
					"prefix": "/api/",
					"target": "https://api.internal.yourcompany.com",
				},
			},
		},
	}
}

// generateDefaultConfig writes YAML for .yaml/.yml paths and JSON otherwise
func generateDefaultConfig(path string) error {
	data, err := json.MarshalIndent(defaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if data, err = yaml.JSONToYAML(data); err != nil {
			return fmt.Errorf("failed to convert config to YAML: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func validateConfig(cmd *cobra.Command, path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "\nErrors (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			if e.Path != "" {
				fmt.Fprintf(out, "  - %s: %s\n", e.Path, e.Message)
			} else {
				fmt.Fprintf(out, "  - %s\n", e.Message)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintf(out, "\nWarnings (%d):\n", len(result.Warnings))
		for _, w := range result.Warnings {
			if w.Path != "" {
				fmt.Fprintf(out, "  - %s: %s\n", w.Path, w.Message)
			} else {
				fmt.Fprintf(out, "  - %s\n", w.Message)
			}
		}
	}

	fmt.Fprintln(out)
	switch {
	case len(result.Errors) == 0 && len(result.Warnings) == 0:
		fmt.Fprintln(out, "Result: PASS")
	case len(result.Errors) == 0:
		fmt.Fprintln(out, "Result: PASS (with warnings)")
	default:
		fmt.Fprintln(out, "Result: FAIL")
	}

	if len(result.Errors) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

// loadEnvFile loads KEY=value pairs into the environment without overriding
// variables that are already set. A missing file is only an error when the
// path was given explicitly.
func loadEnvFile(path string, explicit bool) error {
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	log.LogInfoWithFields("main", "Loaded environment file", map[string]any{"path": path})
	return nil
}

func newServeCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the BFF",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log.LogInfoWithFields("main", "Starting bff-front", map[string]any{
				"version": BuildVersion,
				"config":  configPath,
			})

			bff, err := internal.NewBFFFront(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to create BFF: %w", err)
			}
			return bff.Run()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (JSON or YAML)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the config")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			return validateConfig(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (JSON or YAML)")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before validating")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-init <path>",
		Short: "Write a starter config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := generateDefaultConfig(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated default config at: %s\n", args[0])
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), BuildVersion)
		},
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:          "bff-front",
		Short:        "Backend-for-frontend for Entra External ID sign-up and sign-in",
		Version:      BuildVersion,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel == "" {
				return nil
			}
			return log.SetLogLevel(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (trace, debug, info, warn, error)")

	root.AddCommand(newServeCmd(), newValidateCmd(), newConfigInitCmd(), newVersionCmd())
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.LogError("%v", err)
		os.Exit(1)
	}
}
