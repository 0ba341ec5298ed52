package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var flags rootFlags

	ctx := newCommandContext(&flags)

	rootCmd := &cobra.Command{
		Use:           "observer",
		Short:         "Observe and drive a sonolive discovery session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "Configuration file path")
	pf.StringVar(&flags.url, "url", "", "Websocket endpoint (overrides observer.url)")
	pf.StringVar(&flags.token, "token", "", "API token (overrides observer.token)")
	pf.BoolVar(&flags.json, "json", false, "Write JSON instead of tables")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Log connection activity to stderr")
	pf.DurationVar(&flags.timeout, "timeout", defaultTimeout, "How long to wait for the server to answer")

	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newStartCommand(ctx))
	rootCmd.AddCommand(newStopCommand(ctx))
	rootCmd.AddCommand(newLoadMoreCommand(ctx))
	rootCmd.AddCommand(newPromptCommand(ctx))
	rootCmd.AddCommand(newSearchCommand(ctx))
	rootCmd.AddCommand(newSourcesCommand(ctx))
	rootCmd.AddCommand(newLibraryCommand(ctx))
	for _, cmd := range newCandidateCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}

	return rootCmd
}
