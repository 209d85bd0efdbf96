package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/signalhawk/cli/pkg/output"
	"github.com/telhawk-systems/signalhawk/common/config"
)

var (
	cfgFile      string
	outputFormat string
	cfg          *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sigctl",
	Short: "SignalHawk pipeline CLI",
	Long: `sigctl is the operator tool for the SignalHawk signal pipeline.

Classify and decipher signals offline, encode test payloads, and emit
synthetic signals into the raw signal stream.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "pipeline config file (default: $SIGNALHAWK_CONFIG_DIR/config.yaml)")
	rootCmd.PersistentFlags().String("nats-url", "", "NATS URL (default from config)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", output.FormatTable, "output format: table, json, yaml")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		output.Warn("Could not load config: %v", err)
		cfg = config.Default()
	}
}
