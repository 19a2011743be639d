package cmd

import (
	"fmt"
	"os"

	"github.com/killallgit/converse/pkg/config"
	"github.com/killallgit/converse/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "converse",
		Short: "Chat with Claude from the terminal",
		Long: `converse keeps chats and projects in a local database and streams
replies from Anthropic or a local ollama server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(cfgFile); err != nil {
				return err
			}
			if level, _ := cmd.Flags().GetString("log-level"); cmd.Flags().Changed("log-level") {
				viper.Set("logging.level", level)
				config.Global.Logging.Level = level
			}
			return logger.Init()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is .converse/settings.yaml)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")

	rootCmd.AddCommand(newSendCmd(), newChatsCmd(), newProjectsCmd(), newConfigCmd())
	return rootCmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp runs fn against a freshly wired app and closes it afterwards
func withApp(fn func(a *app) error) error {
	a, err := newApp(config.Get())
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()
	return fn(a)
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the current configuration to the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefaultConfig(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", config.Get().ConfigFile)
			return nil
		},
	}
}
