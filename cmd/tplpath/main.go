// Package main is the entry point for the tplpath CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"tplpath/internal/logger"
	"tplpath/pkg/config"
)

// version is set at build time via ldflags.
var version = "dev"

// cfg is the loaded configuration with flag and environment overrides
// applied. It is set by the root command before any subcommand runs.
var cfg *config.Config

// configErr is the failure to read a config file that was given with
// --config or found on the search path.
var configErr error

var rootCmd = &cobra.Command{
	Use:   "tplpath",
	Short: "Toolpath and dose engine for two-photon lithography",
	Long: `tplpath turns a solid into an ordered laser toolpath for two-photon
lithography and predicts the polymerized result.

plan slices, hatches and sequences a part and evaluates its dose and heating;
optimize searches the threshold power, the fastest safe speed and the finest
hatch; primitive exports the built-in shapes as STL.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		if configErr != nil {
			return configErr
		}
		if err := bindFlags(cmd.Flags()); err != nil {
			return err
		}
		c, err := loadConfig()
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := logger.Init(c.Logging, os.Stderr); err != nil {
			return err
		}
		if f := viper.ConfigFileUsed(); f != "" {
			logger.Debug("using config file", zap.String("path", f))
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./tplpath.yaml or ~/.config/tplpath/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "also log to this rotated file")
	rootCmd.PersistentFlags().Int("cores", 0, "worker goroutines per parallel step (default: all CPUs)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("tplpath")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "tplpath"))
		}
	}

	viper.SetEnvPrefix("TPLPATH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// a missing file on the search path leaves the defaults in place
	configErr = nil
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			configErr = fmt.Errorf("reading config: %w", err)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
