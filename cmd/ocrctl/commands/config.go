package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/QThans/MinerU-runpod/cmd/ocrctl/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg.Redacted())
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ui.Success("Configuration is valid")
		ui.Table([]string{"Setting", "Value"}, [][]string{
			{"model server", cfg.Pipeline.ServerURL},
			{"model", cfg.Pipeline.ModelName},
			{"listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)},
			{"workers", fmt.Sprint(cfg.Workers.PoolSize)},
			{"cache", cfg.Cache.Driver},
		})
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
