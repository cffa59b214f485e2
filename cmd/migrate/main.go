package main

import (
	"flag"
	"log"

	"freelancehub/internal/config"
	"freelancehub/internal/database"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "config file (default ./config.yml)")
	seed := flag.Bool("seed", false, "insert the built-in contract templates")
	flag.Parse()

	_ = godotenv.Load()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.InitLogger(cfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// 连接数据库
	db, err := database.Open(cfg)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	logrus.Info("Starting database migration...")
	if err := database.AutoMigrate(db); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	// 审计日志按时间与规则查询的复合索引
	for _, stmt := range []string{
		"CREATE INDEX IF NOT EXISTS idx_automation_logs_rule_created ON automation_logs(rule_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_automation_rules_due ON automation_rules(trigger_type, is_active, next_run)",
		"CREATE INDEX IF NOT EXISTS idx_email_campaigns_due ON email_campaigns(status, scheduled_at)",
	} {
		if err := db.Exec(stmt).Error; err != nil {
			logrus.Warnf("index: %v", err)
		}
	}

	if *seed {
		n, err := database.SeedDefaults(db, logrus.StandardLogger())
		if err != nil {
			logrus.Fatalf("Failed to seed defaults: %v", err)
		}
		logrus.Infof("Seeded %d contract template(s)", n)
	}

	logrus.Info("Migration process completed!")
}
