package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"repufi/config"
	"repufi/logger"
	"repufi/service"
)

func newRootCmd() *cobra.Command {
	var verbose bool
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "repufi",
		Short:         "RepuFi computes GitHub Developer Reputation Scores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.NewConfig()
			if err := cfg.Load(); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			level := cfg.LogLevel
			if verbose {
				level = "debug"
			}
			if err := logger.Initialize(level); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newServeCmd(&cfg))
	root.AddCommand(newScoreCmd(&cfg))
	return root
}

func newServeCmd(cfg **config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the scoring HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := service.NewService(*cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(); err != nil {
					logger.Error("Error during service shutdown", zap.Error(err))
				}
			}()
			return svc.Run(cmd.Context())
		},
	}
}

func newScoreCmd(cfg **config.Config) *cobra.Command {
	var compact bool

	cmd := &cobra.Command{
		Use:   "score <username>",
		Short: "Compute the score for one GitHub user and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := service.NewService(*cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.Scores().Score(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), result, compact)
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "print JSON on a single line")
	return cmd
}

func writeResult(w io.Writer, v any, compact bool) error {
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
