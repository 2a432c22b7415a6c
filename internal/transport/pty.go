package transport

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/logger"
	"go.uber.org/zap"
)

// PtyConn 挂在伪终端上的模拟器子进程
//
// 读取会一直阻塞，直到至少有一个字节可读或子进程关闭了终端。
type PtyConn struct {
	path   string
	cmd    *exec.Cmd
	tty    *os.File
	once   sync.Once
	err    error
	logger *zap.Logger
}

// OpenEmulated 启动模拟器并连接到它的伪终端
func OpenEmulated(cfg Config) (*PtyConn, error) {
	log := logger.WithModule("serial")

	if cfg.ExecutablePath == "" {
		return nil, apperrors.New(apperrors.ErrTransportUnavailable, "模拟器路径为空")
	}

	cmd := exec.Command(cfg.ExecutablePath, cfg.Args...)
	tty, err := pty.Start(cmd)
	if err != nil {
		log.Error("启动模拟器失败",
			zap.String("path", cfg.ExecutablePath),
			zap.Error(err))
		return nil, apperrors.Wrapf(err, apperrors.ErrTransportUnavailable, "启动模拟器 %s", cfg.ExecutablePath)
	}

	log.Info("模拟器已启动",
		zap.String("path", cfg.ExecutablePath),
		zap.Int("pid", cmd.Process.Pid))

	return &PtyConn{
		path:   cfg.ExecutablePath,
		cmd:    cmd,
		tty:    tty,
		logger: log,
	}, nil
}

// ReadChunk 读取最多 max 字节
func (p *PtyConn) ReadChunk(max int) ([]byte, error) {
	if max <= 0 {
		max = ChunkSize
	}

	buf := make([]byte, max)
	n, err := p.tty.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		return buf[:0], nil
	}

	// 子进程退出后 Linux 上读主端返回 EIO，其他平台返回 EOF
	if errors.Is(err, io.EOF) || isPtyClosed(err) {
		return nil, apperrors.Wrap(err, apperrors.ErrTransportIO, "device stream closed")
	}
	return nil, apperrors.Wrapf(err, apperrors.ErrTransportIO, "读取模拟器 %s", p.path)
}

// Write 写入全部字节
func (p *PtyConn) Write(b []byte) error {
	if _, err := p.tty.Write(b); err != nil {
		return apperrors.Wrapf(err, apperrors.ErrTransportIO, "写入模拟器 %s", p.path)
	}
	return nil
}

// Close 关闭终端并结束子进程
func (p *PtyConn) Close() error {
	p.once.Do(func() {
		if err := p.tty.Close(); err != nil {
			p.err = apperrors.Wrapf(err, apperrors.ErrTransportIO, "关闭模拟器终端 %s", p.path)
		}

		if p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.logger.Warn("结束模拟器进程失败", zap.Error(err))
			}
			// 被 kill 的进程 Wait 一定返回错误，这里只负责回收
			_ = p.cmd.Wait()
		}

		p.logger.Info("模拟器已关闭", zap.String("path", p.path))
	})
	return p.err
}

func isPtyClosed(err error) bool {
	return errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}
