package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/marge-go/mergebot/internal/config"
)

var (
	configValidatePath  string
	writeDefaults       bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate configuration, printing the resolved document",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configValidateCmd.Flags().StringVar(&configValidatePath, "config", "mergebot.toml", "path to the TOML configuration file")
	configValidateCmd.Flags().BoolVar(&writeDefaults, "write-defaults", false, "write the resolved (defaulted) document back to --config")
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configValidatePath)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) && writeDefaults {
			cfg = config.Default()
		} else {
			return err
		}
	}

	if writeDefaults {
		if err := config.Save(configValidatePath, cfg); err != nil {
			return fmt.Errorf("writing defaults: %w", err)
		}
	}

	enc := toml.NewEncoder(os.Stdout)
	return enc.Encode(cfg)
}
