package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ccfrost/mapupload/internal/config"
	"github.com/ccfrost/mapupload/internal/lib"
	"github.com/spf13/cobra"
)

const mapupload = "mapupload"

// exitInterrupted is the conventional status for a process stopped by SIGINT.
const exitInterrupted = 130

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	if errors.Is(err, lib.ErrInterrupted) {
		fmt.Println("\nBREAK: Stopping upload.")
		os.Exit(exitInterrupted)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var cfg config.MapuploadConfig

	rootCmd := &cobra.Command{
		Use:   mapupload + " <path>",
		Short: "Bulk upload images taken with the Mapillary apps",
		Long: `Upload .jpg images taken with the Mapillary iOS or Android apps.
<path> is a single image or a directory, which is searched recursively.
Images without Mapillary EXIF tags are skipped, since the server ignores them.
Uploaded images are moved into success_dir, rejected ones into failed_dir,
unless --keep is specified.`,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return applyFlags(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Errors past this point are not usage errors.
			cmd.SilenceUsage = true

			closeLog, err := lib.SetupLogger(cfg.LogFile)
			if err != nil {
				return err
			}
			defer closeLog()

			if exp, err := cfg.Upload.PolicyExpiration(); err == nil && exp.Before(time.Now()) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: upload policy expired at %s, the server will likely reject uploads\n", exp.Format(time.RFC3339))
			}

			dryRun, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return fmt.Errorf("invalid dry-run flag: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := lib.UploadPath(ctx, cfg, args[0], lib.UploadOptions{
				DryRun:       dryRun,
				ShowProgress: true,
			})
			if err != nil {
				// ErrInterrupted is returned as is so main can pick the exit status.
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Done uploading.")
			fmt.Fprintf(out, "\tsucceeded: %d\n\tfailed: %d\n\tgave up: %d\n\terrors: %d\n\tskipped: %d\n",
				summary.Succeeded, summary.Rejected, summary.Exhausted, summary.Errored, summary.Skipped)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	rootCmd.Flags().IntP("workers", "w", 0, "Number of concurrent uploads (overrides config)")
	rootCmd.Flags().Int("max-attempts", 0, "Attempts per file on network errors (overrides config)")
	rootCmd.Flags().String("key-prefix", "", "Prefix for the remote object key (overrides config)")
	rootCmd.Flags().BoolP("keep", "k", false, "Leave files in place after upload")
	rootCmd.Flags().Bool("dry-run", false, "List the images that would be uploaded")
	return rootCmd
}

// applyFlags overrides config values with the flags the user set.
func applyFlags(cmd *cobra.Command, cfg *config.MapuploadConfig) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		workers, err := flags.GetInt("workers")
		if err != nil {
			return fmt.Errorf("invalid workers flag: %w", err)
		}
		cfg.Workers = workers
	}
	if flags.Changed("max-attempts") {
		attempts, err := flags.GetInt("max-attempts")
		if err != nil {
			return fmt.Errorf("invalid max-attempts flag: %w", err)
		}
		cfg.MaxAttempts = attempts
	}
	if flags.Changed("key-prefix") {
		prefix, err := flags.GetString("key-prefix")
		if err != nil {
			return fmt.Errorf("invalid key-prefix flag: %w", err)
		}
		cfg.Upload.KeyPrefix = prefix
	}
	keep, err := flags.GetBool("keep")
	if err != nil {
		return fmt.Errorf("invalid keep flag: %w", err)
	}
	if keep {
		cfg.MoveFiles = false
	}
	return nil
}
