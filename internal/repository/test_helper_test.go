package repository

import (
	"time"

	"github.com/wfunc/prog28c/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 使用内存数据库进行测试
func SetupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	// 每个连接都是独立的内存库，只保留一个
	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.Exchange{}); err != nil {
		panic(err)
	}

	return db
}

// CleanupTestDB 清理测试数据库
func CleanupTestDB(db *gorm.DB) {
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// CreateTestExchange 创建测试交互记录
func CreateTestExchange(sessionID, command, payload string, at time.Time) *models.Exchange {
	return &models.Exchange{
		CreatedAt:  at,
		SessionID:  sessionID,
		Transport:  "emulated",
		Port:       "./bin/emulator",
		Command:    command,
		Raw:        command + "\n" + payload + "\n> ",
		Payload:    payload,
		BytesCount: len(command) + len(payload) + 4,
		Duration:   5,
	}
}
