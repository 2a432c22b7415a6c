package database

import (
	"fmt"

	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/logger"
	"github.com/wfunc/prog28c/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AutoMigrate 自动迁移历史记录表结构
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return apperrors.New(apperrors.ErrDatabaseConnect, "数据库未初始化")
	}

	// 多个进程同时打开同一个 SQLite 文件时避免并发迁移
	if dbPath := sqlitePath(db); dbPath != "" {
		lockFile, err := acquireMigrationLock(dbPath)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "获取迁移锁失败")
		}
		defer releaseMigrationLock(lockFile)
	}

	migrationModels := []interface{}{
		&models.Exchange{},
	}

	for _, model := range migrationModels {
		if err := db.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "数据库迁移失败")
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	// 按会话和时间查询最常用
	if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_exchanges_session_created ON exchanges(session_id, created_at)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_exchanges_session_created"), zap.Error(err))
	}

	return nil
}
