package database

import (
	"fmt"
	"time"

	"settlement/internal/config"
	"settlement/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// NewLogger SQL 日志写入 logrus；查不到记录是正常分支，不记错误
func NewLogger(logSQL bool) logger.Interface {
	logLevel := logger.Warn
	if logSQL {
		logLevel = logger.Info
	}

	return logger.New(logrus.WithField("component", "gorm"), logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  logLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Open 统一的 gorm 配置：时间一律 UTC，唯一键冲突翻译成 gorm.ErrDuplicatedKey
func Open(dialector gorm.Dialector, logSQL bool) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		Logger:         NewLogger(logSQL),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// Migrate 自动迁移全部结算表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(model.AllModels()...)
}

// InitMySQL 初始化 MySQL 连接，失败直接退出
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := Open(mysql.Open(dsn), cfg.LogSQL)
	if err != nil {
		logrus.Fatalf("连接 MySQL 失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		logrus.Fatalf("获取底层 DB 失败: %v", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		logrus.Fatalf("自动迁移表结构失败: %v", err)
	}

	DB = db
	logrus.WithField("component", "database").Info("MySQL 连接成功")
	return db
}
