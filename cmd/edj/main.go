package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/franz/edition-janitor/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "edj",
		Short: "Edition Janitor - find duplicate album editions and keep the best one",
		Long: `edj (Edition Janitor) finds multiple physical copies of the same album in a
music library, picks the best edition by quality, and moves the others to a
dupes folder. Every move is recorded in a ledger and can be restored.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.ConfigureColors()
			util.SetVerbose(viper.GetBool("verbose"))
			util.SetQuiet(viper.GetBool("quiet"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/edj.yaml or ./edj.yaml)")
	rootCmd.PersistentFlags().String("db", "edj-state.db", "state database file")
	rootCmd.PersistentFlags().String("artifacts-dir", "artifacts", "directory for event logs and reports")
	rootCmd.PersistentFlags().String("nas-mode", "auto", "tune for a library on a network share: auto, true or false")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("artifacts_dir", rootCmd.PersistentFlags().Lookup("artifacts-dir"))
	viper.BindPFlag("nas_mode", rootCmd.PersistentFlags().Lookup("nas-mode"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	setDefaults()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("edj")
		viper.SetConfigType("yaml")
	}

	// EDJ_LIBRARY_DUPES_ROOT overrides library.dupes_root
	viper.SetEnvPrefix("EDJ")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
