package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atmx/auction-engine/internal/config"
)

const serviceName = "auction-engine"

var (
	cfgFile string
	v       = config.New()
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Live player auction engine",
	Long: `auction-engine runs a sequential player auction: players are put up
in role order, bids are checked against per-role budget rules, and every
sale is written to the configured store before it is acknowledged.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(v, cfgFile)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
