package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"reelvault/internal/config"
	"reelvault/internal/preflight"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{skipConfigLoadAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := resolveInitTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				_, statErr := os.Stat(target)
				switch {
				case statErr == nil:
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				case !errors.Is(statErr, os.ErrNotExist):
					return fmt.Errorf("check config path: %w", statErr)
				}
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Review paths.data_dir and transcode.hardware_accel before running `reelvault start`.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

// resolveInitTarget expands an explicit --path or falls back to the default location.
func resolveInitTarget(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		target, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return target, nil
	}
	target, err := config.ExpandPath(path)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return target, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and check storage directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			if !ctx.configSeen {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintf(out, "Data dir:    %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "API bind:    %s\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "Encoder:     %s\n", encoderSummary(cfg))
			fmt.Fprintf(out, "Notify:      %s\n", orDash(cfg.Notifications.NtfyTopic))
			renderPreflight(out, preflight.RunAll(cfg), shouldColorize(out))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func encoderSummary(cfg *config.Config) string {
	if !cfg.Transcode.Enabled {
		return "disabled"
	}
	mode := "software (libx264)"
	if cfg.HardwareRequested() {
		mode = "vaapi with software fallback"
	}
	return fmt.Sprintf("%s, %d slot(s), %s", mode, cfg.Transcode.MaxConcurrent, cfg.FFmpegBinary())
}

// renderPreflight prints directory checks. Missing directories are created
// when the daemon starts, so failures here are informational.
func renderPreflight(w io.Writer, results []preflight.Result, colorize bool) {
	for _, r := range results {
		fmt.Fprintln(w, renderStatusLine(r.Name, storageKind(r.Severity()), r.Detail, colorize))
	}
}
