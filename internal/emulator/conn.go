package emulator

import (
	"io"
	"sync"

	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/transport"
)

// Conn 进程内连接到模拟设备，不经过伪终端
type Conn struct {
	inW  *io.PipeWriter
	outR *io.PipeReader
	done chan struct{}
	once sync.Once
}

var _ transport.Conn = (*Conn)(nil)

// Connect 在后台运行设备并返回与之相连的连接
func Connect(d *Device) *Conn {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	c := &Conn{
		inW:  inW,
		outR: outR,
		done: make(chan struct{}),
	}

	go func() {
		defer close(c.done)
		err := d.Run(inR, outW)
		outW.CloseWithError(err)
		inR.Close()
	}()

	return c
}

// Opener 每次打开都启动一个新的模拟设备
func Opener(rom *EEPROM, opts Options) transport.Opener {
	return func() (transport.Conn, error) {
		return Connect(NewDevice(rom, opts)), nil
	}
}

// ReadChunk 读取设备输出
func (c *Conn) ReadChunk(max int) ([]byte, error) {
	if max <= 0 {
		max = transport.ChunkSize
	}
	buf := make([]byte, max)
	n, err := c.outR.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTransportIO, "device stream closed")
	}
	return buf[:0], nil
}

// Write 写入设备输入
func (c *Conn) Write(p []byte) error {
	if _, err := c.inW.Write(p); err != nil {
		return apperrors.Wrap(err, apperrors.ErrTransportIO, "写入模拟设备")
	}
	return nil
}

// Close 结束设备并等待其退出
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.inW.Close()
		c.outR.Close()
		<-c.done
	})
	return nil
}
