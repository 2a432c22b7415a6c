// Package transport 提供与编程器设备之间的双工字节流连接。
//
// 连接有两种实现：真实硬件的串口，以及挂在伪终端上的模拟器子进程。
// 两者对上层暴露同一个 Conn 接口。
package transport

import (
	"time"

	"github.com/wfunc/prog28c/internal/config"
	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/logger"
	"go.uber.org/zap"
)

// ChunkSize 单次读取的推荐字节数
const ChunkSize = 1024

// Kind 传输方式
type Kind string

const (
	KindSerial   Kind = config.KindSerial
	KindEmulated Kind = config.KindEmulated
)

// Conn 设备连接
//
// ReadChunk 返回空切片表示暂时没有数据（串口读超时），调用方应继续轮询；
// 流本身失败时返回 ErrTransportIO。Close 可重复调用，底层资源只释放一次。
type Conn interface {
	ReadChunk(max int) ([]byte, error)
	Write(p []byte) error
	Close() error
}

// Config 连接配置
type Config struct {
	Kind Kind

	// 串口
	Port        string
	BaudRate    int
	DataBits    int
	StopBits    int
	Parity      string
	ReadTimeout time.Duration

	// 模拟器
	ExecutablePath string
	Args           []string
}

// FromConfig 从全局配置构建连接配置
func FromConfig(c *config.Config) Config {
	return Config{
		Kind:           Kind(c.Transport.Kind),
		Port:           c.Serial.Port,
		BaudRate:       c.Serial.BaudRate,
		DataBits:       c.Serial.DataBits,
		StopBits:       c.Serial.StopBits,
		Parity:         c.Serial.Parity,
		ReadTimeout:    c.Serial.ReadTimeout,
		ExecutablePath: c.Emulator.Path,
		Args:           c.Emulator.Args,
	}
}

// Opener 打开连接的函数
type Opener func() (Conn, error)

// Open 按配置打开连接
func Open(cfg Config) (Conn, error) {
	switch cfg.Kind {
	case KindSerial:
		return OpenSerial(cfg)
	case KindEmulated:
		return OpenEmulated(cfg)
	default:
		return nil, apperrors.Newf(apperrors.ErrTransportUnavailable, "未知的传输方式: %q", cfg.Kind)
	}
}

// NewOpener 返回按配置打开连接的 Opener
func NewOpener(cfg Config) Opener {
	return func() (Conn, error) {
		return Open(cfg)
	}
}

// With 打开连接并执行 fn，无论 fn 正常返回、出错还是 panic，连接都会被关闭一次
func With(cfg Config, fn func(Conn) error) error {
	return Run(NewOpener(cfg), fn)
}

// Run 与 With 相同，但由调用方提供打开方式
func Run(open Opener, fn func(Conn) error) (err error) {
	conn, err := open()
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			logger.WithModule("serial").Warn("关闭设备连接失败", zap.Error(closeErr))
			if err == nil {
				err = closeErr
			}
		}
	}()

	return fn(conn)
}
