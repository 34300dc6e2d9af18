package cmd

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openclaw/carapace/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "carapace",
		Short: "Carapace - OpenClaw VM supervisor",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("root-dir", "", "root data directory")
	cmd.PersistentFlags().String("run-dir", "", "runtime directory")
	cmd.PersistentFlags().String("log-dir", "", "log directory")

	_ = viper.BindPFlag("root_dir", cmd.PersistentFlags().Lookup("root-dir"))
	_ = viper.BindPFlag("run_dir", cmd.PersistentFlags().Lookup("run-dir"))
	_ = viper.BindPFlag("log_dir", cmd.PersistentFlags().Lookup("log-dir"))

	viper.SetEnvPrefix("CARAPACE")
	viper.AutomaticEnv()

	cmd.AddCommand(
		runCmd,
		startCmd,
		stopCmd,
		restartCmd,
		statusCmd,
		consoleCmd,
		execCmd,
		updateCmd,
		logsCmd,
		gcCmd,
		versionCmd,
	)

	return cmd
}()

func initConfig() error {
	conf = config.DefaultConfig()
	defaults := *conf

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	_ = viper.ReadInConfig() // optional; missing file is OK

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	// An unset bound flag unmarshals as an empty string; keep the defaults.
	if conf.RootDir == "" {
		conf.RootDir = defaults.RootDir
	}
	if conf.RunDir == "" {
		conf.RunDir = defaults.RunDir
	}
	if conf.LogDir == "" {
		conf.LogDir = defaults.LogDir
	}

	if conf.Memory <= 0 {
		conf.Memory = 4 << 30 //nolint:mnd
	}
	if conf.CPU <= 0 {
		conf.CPU = 2 //nolint:mnd
	}
	if conf.StopTimeoutSeconds <= 0 {
		conf.StopTimeoutSeconds = 15 //nolint:mnd
	}
	if conf.LogKeep <= 0 {
		conf.LogKeep = 10 //nolint:mnd
	}

	return log.SetupLog(context.Background(), &conf.Log, "")
}

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := newCommandContext()
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
