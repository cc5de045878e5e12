package cli

import (
	"github.com/spf13/cobra"

	"github.com/vadim/dealroom/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dealctl",
	Short: "Operator tool for the dealroom service",
	Long: `dealctl manages a dealroom deployment:

  dealctl token   issue a development access token
  dealctl migrate apply database migrations
  dealctl stages  print the deal stage table and quick actions
  dealctl seed    validate a seed fixture

Configuration is read from the environment (and .env), or from the YAML
file given with --config.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(stagesCmd)
	rootCmd.AddCommand(seedCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.MustLoad(), nil
}
