package console

import (
	"context"
	"time"

	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/logger"
	"github.com/wfunc/prog28c/internal/models"
	"github.com/wfunc/prog28c/internal/protocol"
	"github.com/wfunc/prog28c/internal/repository"
	"go.uber.org/zap"
)

// recordTimeout 单条历史记录的写入超时
const recordTimeout = 5 * time.Second

// Recorder 把每次交互写入历史存储
//
// 写入失败只记日志，不影响命令本身的结果。
type Recorder struct {
	repo      repository.ExchangeRepository
	transport string
	port      string
	logger    *zap.Logger
}

// NewRecorder 创建历史记录器
func NewRecorder(repo repository.ExchangeRepository, transport, port string) *Recorder {
	return &Recorder{
		repo:      repo,
		transport: transport,
		port:      port,
		logger:    logger.WithModule("database"),
	}
}

// Record 作为 protocol.ExchangeCallback 使用
func (r *Recorder) Record(result *protocol.ExchangeResult) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, ToModel(result, r.transport, r.port)); err != nil {
		r.logger.Warn("保存交互记录失败",
			zap.String("session_id", result.SessionID),
			zap.String("command", result.Command),
			zap.Error(err),
		)
	}
}

// ToModel 把交互结果转换成数据库记录
func ToModel(result *protocol.ExchangeResult, transport, port string) *models.Exchange {
	e := &models.Exchange{
		CreatedAt:  result.Started,
		SessionID:  result.SessionID,
		Transport:  transport,
		Port:       port,
		Command:    result.Command,
		Raw:        result.Raw,
		Payload:    result.Payload,
		BytesCount: result.Bytes,
		Duration:   result.Duration.Milliseconds(),
	}
	if result.Err != nil {
		e.ErrorCode = int(apperrors.GetCode(result.Err))
		e.ErrorMsg = result.Err.Error()
	}
	return e
}
