package melt

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meltworks/melt/pkg/config"
)

var cfgFile string
var logLevel string
var cfg *config.Config
var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "melt",
	Short: "melt runs declarative ELT pipelines",
	Long:  `melt reads a melt.yml manifest and moves data from extractors to loaders`,
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/melt.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Print the version number")

	rootCmd.AddCommand(eltCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(installCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}
}

func initLogger() {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if logger, err = zc.Build(); err != nil {
		fmt.Println("Error initializing logger:", err)
		os.Exit(1)
	}
}
