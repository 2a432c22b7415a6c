package repository

import (
	"context"
	"time"

	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/models"
	"gorm.io/gorm"
)

// ExchangeRepository 命令交互记录仓储接口
type ExchangeRepository interface {
	Create(ctx context.Context, exchange *models.Exchange) error
	GetBySessionID(ctx context.Context, sessionID string) ([]*models.Exchange, error)
	Query(ctx context.Context, query *models.ExchangeQuery) ([]*models.Exchange, int64, error)
	Stats(ctx context.Context, since *time.Time) (*models.ExchangeStats, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// exchangeRepo 仓储实现
type exchangeRepo struct {
	db *gorm.DB
}

// NewExchangeRepository 创建交互记录仓储
func NewExchangeRepository(db *gorm.DB) ExchangeRepository {
	return &exchangeRepo{db: db}
}

// Create 写入一条记录
func (r *exchangeRepo) Create(ctx context.Context, exchange *models.Exchange) error {
	if err := r.db.WithContext(ctx).Create(exchange).Error; err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseInsert, "写入交互记录失败")
	}
	return nil
}

// GetBySessionID 按会话ID获取记录，按时间升序
func (r *exchangeRepo) GetBySessionID(ctx context.Context, sessionID string) ([]*models.Exchange, error) {
	var exchanges []*models.Exchange
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&exchanges).Error
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "查询会话记录失败")
	}
	return exchanges, nil
}

// Query 条件查询，返回当前页和总数
func (r *exchangeRepo) Query(ctx context.Context, query *models.ExchangeQuery) ([]*models.Exchange, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.Exchange{})

	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.Command != "" {
		db = db.Where("command LIKE ?", "%"+query.Command+"%")
	}
	if query.Transport != "" {
		db = db.Where("transport = ?", query.Transport)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}
	if query.HasError != nil {
		if *query.HasError {
			db = db.Where("error_code != 0")
		} else {
			db = db.Where("error_code = 0")
		}
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "统计交互记录失败")
	}

	db = db.Order("created_at DESC, id DESC")
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var exchanges []*models.Exchange
	if err := db.Find(&exchanges).Error; err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "查询交互记录失败")
	}

	return exchanges, total, nil
}

// Stats 统计 since 之后的记录，since 为空时统计全部
func (r *exchangeRepo) Stats(ctx context.Context, since *time.Time) (*models.ExchangeStats, error) {
	scope := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&models.Exchange{})
		if since != nil {
			db = db.Where("created_at >= ?", *since)
		}
		return db
	}

	stats := &models.ExchangeStats{}
	if err := scope().Count(&stats.TotalCount).Error; err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "统计交互记录失败")
	}
	if err := scope().Where("error_code != 0").Count(&stats.TotalErrors).Error; err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "统计失败记录失败")
	}

	var agg struct {
		TotalBytes  int64
		AvgDuration float64
		MaxDuration int64
	}
	if err := scope().
		Select("COALESCE(SUM(bytes_count), 0) as total_bytes, COALESCE(AVG(duration), 0) as avg_duration, COALESCE(MAX(duration), 0) as max_duration").
		Scan(&agg).Error; err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "统计耗时失败")
	}
	stats.TotalBytes = agg.TotalBytes
	stats.AvgDuration = agg.AvgDuration
	stats.MaxDuration = agg.MaxDuration

	return stats, nil
}

// DeleteBefore 删除 before 之前的记录
func (r *exchangeRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.Exchange{})
	if result.Error != nil {
		return 0, apperrors.Wrap(result.Error, apperrors.ErrDatabaseQuery, "删除交互记录失败")
	}
	return result.RowsAffected, nil
}
