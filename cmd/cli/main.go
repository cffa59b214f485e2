package main

import (
	"os"

	"freelancehub/internal/config"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "freelancehub",
	Short: "Freelance marketplace automation engine",
	Long:  `Rule-driven automation for the freelance marketplace: contracts, invoices, campaigns and audit logs.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env 不存在时忽略
		_ = godotenv.Load()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yml)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
