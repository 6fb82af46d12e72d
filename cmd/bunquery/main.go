package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunquery/client"
	"github.com/kartikbazzad/bunquery/pkg/config"
	"github.com/kartikbazzad/bunquery/pkg/logger"
	"github.com/kartikbazzad/bunquery/pkg/queryrpc"
)

var cfg = config.DefaultConfig()

// global flag values, applied over the loaded config when set
var (
	flagAddr     string
	flagData     string
	flagProject  string
	flagDatabase string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:          "bunquery",
	Short:        "bunquery document query client and local emulator",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(config.EnvPrefix, cfg); err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("addr") {
			cfg.Transport.Addr = flagAddr
			cfg.Server.Addr = flagAddr
		}
		if flags.Changed("data") {
			cfg.Emulator.Path = flagData
		}
		if flags.Changed("project") {
			cfg.Session.ProjectID = flagProject
		}
		if flags.Changed("database") {
			cfg.Session.DatabaseID = flagDatabase
		}
		if flags.Changed("log-level") {
			cfg.Log.Level = flagLogLevel
		}
		logger.Init(logger.Config{
			Level:     cfg.Log.Level,
			Format:    cfg.Log.Format,
			AddSource: cfg.Log.AddSource,
		})
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagAddr, "addr", cfg.Transport.Addr, "RPC address to serve on or connect to")
	pf.StringVar(&flagData, "data", cfg.Emulator.Path, "Emulator data file")
	pf.StringVar(&flagProject, "project", cfg.Session.ProjectID, "Project ID")
	pf.StringVar(&flagDatabase, "database", cfg.Session.DatabaseID, "Database ID")
	pf.StringVar(&flagLogLevel, "log-level", cfg.Log.Level, "Log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(newServeCmd(), newSeedCmd(), newQueryCmd(), newPartitionCmd(), newBenchCmd())
}

// newClient connects a query client to the configured server.
func newClient() *client.Client {
	return client.New(queryrpc.NewFromConfig(cfg.Transport), cfg, client.WithLogger(logger.Get()))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
