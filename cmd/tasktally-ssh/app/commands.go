// Package app provides the commands of the tasktally-ssh CLI.
package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tasktally/tasktally-ssh/internal/config"
	"github.com/tasktally/tasktally-ssh/internal/versions"
)

const (
	flagConfig = "config"
	flagUser   = "user"
	flagOutput = "output"
)

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "tasktally-ssh",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "SSH transport for tasktally Git operations",
		Long: `tasktally-ssh manages SSH credentials and runs Git clone and push over SSH with
per-operation identities. Host keys are verified strictly unless the configuration opts into
accepting any host key.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.PersistentFlags().String(flagConfig, "", "Path to configuration file (YAML format)")
	rootCmd.PersistentFlags().String(flagUser, "", "User the credentials belong to (env TASKTALLY_USER)")
	for _, name := range []string{flagConfig, flagUser} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			slog.Error("Error binding flag", "flag", name, "error", err)
		}
	}
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newVersionCmd(),
		newKeyscanCmd(),
		newProbeCmd(),
		newCloneCmd(),
		newPushCmd(),
		newCredentialsCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}

			if format == "" {
				slog.Info("tasktally-ssh version",
					"version", info.Version,
					"commit", info.Commit,
					"built", info.BuildDate,
					"go", info.GoVersion,
					"platform", info.Platform)
				return nil
			}
			return writeValue(cmd.OutOrStdout(), format, info)
		},
	}
	cmd.Flags().String("format", "", "Output format (json or yaml)")
	return cmd
}
