package main

import (
	"freelancehub/internal/config"
	"freelancehub/internal/database"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := config.InitLogger(cfg); err != nil {
			return err
		}
		db, err := database.Open(cfg)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		if err := database.AutoMigrate(db); err != nil {
			return err
		}
		logrus.Info("Database migration completed")

		if migrateSeed {
			n, err := database.SeedDefaults(db, logrus.StandardLogger())
			if err != nil {
				return err
			}
			logrus.Infof("Seeded %d contract template(s)", n)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSeed, "seed", false, "insert the built-in contract templates")
	rootCmd.AddCommand(migrateCmd)
}
