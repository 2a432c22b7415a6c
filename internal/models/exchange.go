package models

import (
	"encoding/hex"
	"time"

	"gorm.io/gorm"
)

// Exchange 一次命令交互记录
type Exchange struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	// 关联信息
	SessionID string `gorm:"type:varchar(64);index;not null" json:"session_id"`
	Transport string `gorm:"type:varchar(20);index" json:"transport"` // serial / emulated
	Port      string `gorm:"type:varchar(255)" json:"port,omitempty"`  // 串口名或模拟器路径

	// 命令与响应
	Command    string `gorm:"type:varchar(511);index" json:"command"`
	Raw        string `gorm:"type:text" json:"raw,omitempty"` // 去掉 '\r' 后的完整输出
	Payload    string `gorm:"type:text" json:"payload,omitempty"`
	HexData    string `gorm:"type:text" json:"hex_data,omitempty"`
	BytesCount int    `gorm:"default:0" json:"bytes_count"`

	// 错误信息
	ErrorCode int    `gorm:"index;default:0" json:"error_code,omitempty"`
	ErrorMsg  string `gorm:"type:text" json:"error_msg,omitempty"`

	// 性能指标
	Duration  int64 `gorm:"default:0" json:"duration"` // 毫秒
	Timestamp int64 `gorm:"index" json:"timestamp"`    // Unix时间戳（毫秒）
}

// TableName 指定表名
func (Exchange) TableName() string {
	return "exchanges"
}

// BeforeCreate 创建前的钩子
func (e *Exchange) BeforeCreate(tx *gorm.DB) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Timestamp == 0 {
		e.Timestamp = e.CreatedAt.UnixMilli()
	}
	if e.HexData == "" && e.Raw != "" {
		e.HexData = hex.EncodeToString([]byte(e.Raw))
	}
	return nil
}

// Failed 是否失败
func (e *Exchange) Failed() bool {
	return e.ErrorCode != 0 || e.ErrorMsg != ""
}

// ExchangeQuery 查询参数
type ExchangeQuery struct {
	SessionID string     `json:"session_id,omitempty"`
	Command   string     `json:"command,omitempty"`
	Transport string     `json:"transport,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	HasError  *bool      `json:"has_error,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

// ExchangeStats 统计信息
type ExchangeStats struct {
	TotalCount  int64   `json:"total_count"`
	TotalErrors int64   `json:"total_errors"`
	TotalBytes  int64   `json:"total_bytes"`
	AvgDuration float64 `json:"avg_duration"`
	MaxDuration int64   `json:"max_duration"`
}
