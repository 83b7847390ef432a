package main

import (
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	var configFlag string
	var logLevelFlag string
	var opts rewriteOptions

	ctx := newCommandContext(&configFlag, &logLevelFlag)

	rootCmd := &cobra.Command{
		Use:   "epubopt [flags] FILE.epub...",
		Short: "Shrink EPUB archives in place",
		Long: "epubopt extracts each EPUB into a private workspace, runs minify, jpegoptim,\n" +
			"and pngquant over its resources, and atomically replaces the original with\n" +
			"a deterministically repacked archive.",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRewrite(cmd, ctx, opts, args)
		},
	}

	rootCmd.Flags().BoolP("version", "V", false, "Print version and exit")
	rootCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print a per-file savings table")
	rootCmd.Flags().BoolVar(&opts.skipOptimize, "no-optimize", false, "Repack without running optimizers")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.SetVersionTemplate("epubopt {{.Version}}\n")

	rootCmd.AddCommand(newCheckCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newCleanCommand(ctx))

	return rootCmd
}
