// Package console 实现 prog28c 的各个子命令。
//
// 每个命令按配置打开一个连接，先同步一次设备提示符，再逐条执行设备命令，
// 无论成功失败连接都只关闭一次。
package console

import (
	"fmt"
	"io"
	"os"

	"github.com/wfunc/prog28c/internal/config"
	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/logger"
	"github.com/wfunc/prog28c/internal/protocol"
	"github.com/wfunc/prog28c/internal/repository"
	"github.com/wfunc/prog28c/internal/transport"
	"go.uber.org/zap"
)

// CLIVersion 客户端版本
const CLIVersion = "0.0.1"

// unknownFirmware 无法取得固件版本时显示的内容
const unknownFirmware = "Unknown"

// App 命令行应用
type App struct {
	cfg      *config.Config
	tc       transport.Config
	open     transport.Opener // 为空时按 tc 打开
	in       io.Reader
	out      io.Writer
	repo     repository.ExchangeRepository
	recorder *Recorder
	logger   *zap.Logger
}

// Option 应用选项
type Option func(*App)

// WithOpener 替换连接方式（测试时注入 MockConn 或进程内模拟器）
func WithOpener(open transport.Opener) Option {
	return func(a *App) {
		a.open = open
	}
}

// WithInput 交互模式的输入
func WithInput(r io.Reader) Option {
	return func(a *App) {
		a.in = r
	}
}

// WithOutput 命令输出
func WithOutput(w io.Writer) Option {
	return func(a *App) {
		a.out = w
	}
}

// WithRepository 交互历史存储
func WithRepository(repo repository.ExchangeRepository) Option {
	return func(a *App) {
		a.repo = repo
	}
}

// New 创建应用
func New(cfg *config.Config, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		in:     os.Stdin,
		out:    os.Stdout,
		logger: logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	tc := transport.FromConfig(cfg)
	a.tc = tc
	if a.repo != nil && cfg.History.Enabled {
		port := tc.Port
		if tc.Kind == transport.KindEmulated {
			port = tc.ExecutablePath
		}
		a.recorder = NewRecorder(a.repo, string(tc.Kind), port)
	}
	return a
}

// withSession 打开连接、同步提示符后执行 fn，连接在所有路径上都会关闭
func (a *App) withSession(fn func(s *protocol.Session) error) error {
	body := func(conn transport.Conn) error {
		opts := []protocol.Option{protocol.WithDeadline(a.cfg.Protocol.Deadline)}
		if a.recorder != nil {
			opts = append(opts, protocol.WithExchangeCallback(a.recorder.Record))
		}

		session := protocol.NewSession(conn, opts...)
		if _, err := session.WaitPrompt(); err != nil {
			return err
		}
		return fn(session)
	}

	if a.open != nil {
		return transport.Run(a.open, body)
	}
	return transport.With(a.tc, body)
}

// Demo 依次执行配置的演示命令并打印响应
func (a *App) Demo() error {
	return a.Exec(a.cfg.Demo.Commands)
}

// Exec 每个参数作为一条设备命令执行
func (a *App) Exec(commands []string) error {
	return a.withSession(func(s *protocol.Session) error {
		for _, cmd := range commands {
			payload, err := s.Execute(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, payload)
		}
		return nil
	})
}

// Version 打印客户端和固件版本
//
// 取固件版本失败时只打印一行粗略的错误，然后照常输出版本信息。
func (a *App) Version() error {
	firmware := unknownFirmware
	err := a.withSession(func(s *protocol.Session) error {
		payload, err := s.Execute("v")
		if err != nil {
			return err
		}
		firmware = payload
		return nil
	})
	if err != nil {
		firmware = unknownFirmware
		a.logger.Warn("获取固件版本失败", zap.Error(err))
		fmt.Fprintf(a.out, "Unexpected error: %s\n", coarse(err))
	}

	fmt.Fprintf(a.out, "CLI Version: %s\nFirmware %s\n", CLIVersion, firmware)
	return nil
}

// coarse 只保留错误类别
func coarse(err error) string {
	return apperrors.Message(apperrors.GetCode(err))
}
