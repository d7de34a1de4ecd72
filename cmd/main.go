package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ochronus/goskynet/internal/app"
	"github.com/ochronus/goskynet/internal/config"
	"github.com/ochronus/goskynet/internal/portal"
	"github.com/ochronus/goskynet/internal/upload"
	"github.com/ochronus/goskynet/internal/utils"
	"github.com/ochronus/goskynet/skynet"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

type options struct {
	configPath string
	portalURL  string
	apiKey     string
	workers    int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	// Get default config path
	defaultConfigPath, err := config.DefaultConfigPath()
	if err != nil {
		defaultConfigPath = "./config.toml"
	}

	opts := &options{}

	// Root command
	rootCmd := &cobra.Command{
		Use:           "goskynet",
		Short:         "Upload files to Skynet",
		Long:          "Uploads files and directories to a Skynet portal and prints their skylinks.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "Path to config file")

	// Upload command
	uploadCmd := &cobra.Command{
		Use:   "upload PATH...",
		Short: "Upload files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, args)
		},
	}
	uploadCmd.Flags().StringVar(&opts.portalURL, "portal", "", "Portal URL (overrides config)")
	uploadCmd.Flags().StringVar(&opts.apiKey, "api-key", "", "Portal API key (overrides config)")
	uploadCmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Parallel uploads (overrides config)")

	// URL command
	urlCmd := &cobra.Command{
		Use:   "url SKYLINK",
		Short: "Print the portal URL of a skylink",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), skynet.Skylink(args[0]).HTTP(cfg.PortalURL))
			return nil
		},
	}
	urlCmd.Flags().StringVar(&opts.portalURL, "portal", "", "Portal URL (overrides config)")

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local Skynet portal for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPortal(opts)
		},
	}

	// Generate-config command
	generateConfigCmd := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return utils.GenerateConfig(opts.configPath, opts.apiKey, cmd.OutOrStdout())
		},
	}
	generateConfigCmd.Flags().StringVar(&opts.apiKey, "api-key", "", "Portal API key to write into the config")

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "goskynet version %s\n", version)
		},
	}

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(urlCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateConfigCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// loadConfig reads the config file, if any, and applies flag overrides
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if opts.portalURL != "" {
		cfg.PortalURL = opts.portalURL
	}
	if opts.apiKey != "" {
		cfg.APIKey = opts.apiKey
	}
	if opts.workers > 0 {
		cfg.UploadWorkers = opts.workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runUpload(cmd *cobra.Command, opts *options, paths []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	container, err := app.NewContainer(cfg)
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}
	defer container.Close()

	jobs, err := upload.Expand(paths, cfg.SkipPatterns)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return fmt.Errorf("nothing to upload")
	}

	container.Logger.Debugf("Uploading %d file(s) to %s", len(jobs), cfg.PortalURL)

	results := upload.NewUploader(container).Run(ctx, jobs)

	out := cmd.OutOrStdout()
	for _, r := range results {
		if r.Status == upload.StatusSuccess {
			fmt.Fprintf(out, "%s\t%s\t%s\n", r.Job.Name, r.Skylink, r.URL)
		}
	}

	summary := upload.Summarize(results)
	container.Logger.Info(summary.String())
	if summary.Failed > 0 || summary.Canceled > 0 {
		return fmt.Errorf("%d of %d uploads did not complete", summary.Failed+summary.Canceled, summary.Total)
	}
	return nil
}

func runPortal(opts *options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidatePortal(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	container, err := app.NewContainer(cfg)
	if err != nil {
		return fmt.Errorf("failed to build container: %w", err)
	}
	defer container.Close()

	store, err := portal.NewLocalStore(cfg.Portal.DataDirectory)
	if err != nil {
		return fmt.Errorf("failed to open portal store: %w", err)
	}

	container.Logger.Infof("Starting goskynet portal, version %s", version)
	return portal.NewServer(container, store).StartWithContext(ctx)
}
