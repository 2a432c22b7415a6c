package transport

import (
	"io"
	"sync"

	"github.com/tarm/serial"
	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/logger"
	"go.uber.org/zap"
)

// SerialPort 串口接口（用于测试）
type SerialPort interface {
	io.ReadWriteCloser
}

// SerialConn 串口连接
type SerialConn struct {
	name   string
	port   SerialPort
	once   sync.Once
	err    error
	logger *zap.Logger
}

// OpenSerial 打开串口
func OpenSerial(cfg Config) (*SerialConn, error) {
	log := logger.WithModule("serial")

	serialCfg := &serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		Size:        dataBits(cfg.DataBits),
		Parity:      parity(cfg.Parity),
		StopBits:    stopBits(cfg.StopBits),
		ReadTimeout: cfg.ReadTimeout,
	}

	port, err := serial.OpenPort(serialCfg)
	if err != nil {
		log.Error("打开串口失败",
			zap.String("port", cfg.Port),
			zap.Int("baud_rate", cfg.BaudRate),
			zap.Error(err))
		return nil, apperrors.Wrapf(err, apperrors.ErrTransportUnavailable, "打开串口 %s", cfg.Port)
	}

	log.Info("串口连接成功",
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate),
		zap.Duration("read_timeout", cfg.ReadTimeout))

	return NewSerialConn(cfg.Port, port), nil
}

// NewSerialConn 包装一个已打开的串口
func NewSerialConn(name string, port SerialPort) *SerialConn {
	return &SerialConn{
		name:   name,
		port:   port,
		logger: logger.WithModule("serial"),
	}
}

// ReadChunk 读取最多 max 字节，读超时返回空切片
func (s *SerialConn) ReadChunk(max int) ([]byte, error) {
	if max <= 0 {
		max = ChunkSize
	}

	buf := make([]byte, max)
	n, err := s.port.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}

	// tarm/serial 在 POSIX 上读超时返回 (0, io.EOF)，在 Windows 上返回 (0, nil)
	if err == nil || err == io.EOF {
		return buf[:0], nil
	}

	return nil, apperrors.Wrapf(err, apperrors.ErrTransportIO, "读取串口 %s", s.name)
}

// Write 写入全部字节
func (s *SerialConn) Write(p []byte) error {
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			return apperrors.Wrapf(err, apperrors.ErrTransportIO, "写入串口 %s", s.name)
		}
		if n == 0 {
			return apperrors.Newf(apperrors.ErrTransportIO, "写入串口 %s: 写入 0 字节", s.name)
		}
		p = p[n:]
	}
	return nil
}

// Close 关闭串口
func (s *SerialConn) Close() error {
	s.once.Do(func() {
		if err := s.port.Close(); err != nil {
			s.logger.Error("关闭串口失败", zap.String("port", s.name), zap.Error(err))
			s.err = apperrors.Wrapf(err, apperrors.ErrTransportIO, "关闭串口 %s", s.name)
			return
		}
		s.logger.Info("串口已断开", zap.String("port", s.name))
	})
	return s.err
}

// 解析校验位
func parity(p string) serial.Parity {
	switch p {
	case "O", "odd":
		return serial.ParityOdd
	case "E", "even":
		return serial.ParityEven
	case "M", "mark":
		return serial.ParityMark
	case "S", "space":
		return serial.ParitySpace
	default:
		return serial.ParityNone
	}
}

func stopBits(n int) serial.StopBits {
	if n == 2 {
		return serial.Stop2
	}
	return serial.Stop1
}

func dataBits(n int) byte {
	if n <= 0 {
		return serial.DefaultSize
	}
	return byte(n)
}
