package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ruleplane",
	Short: "Local tooling for the RulePlane firewall rule compiler",
	Long: `ruleplane drives the Intent Compiler and Reconciler outside of
their Lambda entrypoints, for local validation and dry-run diffing of
tenant intent documents against a snapshot of live firewall state.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ruleplane.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug output")
	rootCmd.PersistentFlags().String("schema", "schema.json", "path to the intent document JSON schema")
	rootCmd.PersistentFlags().String("protocols", "data/protocols.yaml", "path to the protocol table")
	rootCmd.PersistentFlags().String("default-deny", "data/defaultdeny.yaml", "path to the default-deny baseline")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("schema", rootCmd.PersistentFlags().Lookup("schema"))
	viper.BindPFlag("protocols", rootCmd.PersistentFlags().Lookup("protocols"))
	viper.BindPFlag("default_deny", rootCmd.PersistentFlags().Lookup("default-deny"))

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newCompileCommand())
	rootCmd.AddCommand(newReconcilePlanCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".ruleplane")
	}

	viper.SetEnvPrefix("ruleplane")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("debug") {
			fmt.Println("Using config file:", viper.ConfigFileUsed())
		}
	}
}
