// Package emulator 在标准输入输出上模拟编程器固件的命令行。
package emulator

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/wfunc/prog28c/internal/logger"
	"go.uber.org/zap"
)

const (
	// Prompt 固件提示符
	Prompt = "> "
	// DefaultVersion 固件版本字符串
	DefaultVersion = "Version 0.0.1"
	// MaxLineSize 命令行缓冲区大小（含结尾的 0）
	MaxLineSize = 512

	replyOK             = "OK"
	replyNotImplemented = "Not implemented"
	replyUnknown        = "Unknown command. Type 'h' for help."

	helpText = "h - help\n" +
		"r [start_address] [count] - read ROM\n" +
		"w [start_address] - write ROM\n" +
		"e [length] - erase ROM\n" +
		"l - enable SDP (lock)\n" +
		"u - disable SDP (unlock)\n" +
		"b - switch to binary mode\n" +
		"v - print version\n"
)

// escState 转义序列解析状态
type escState int

const (
	escNone escState = iota
	escStart
	escCSI
)

// Options 模拟器选项
type Options struct {
	Version string
	// CRLF 输出时把 "\n" 转换成 "\r\n"（终端处于 raw 模式时使用）
	CRLF bool
}

// Device 模拟的编程器
type Device struct {
	opts   Options
	rom    *EEPROM
	out    *bufio.Writer
	line   []byte
	esc    escState
	logger *zap.Logger
}

// NewDevice 创建模拟设备
func NewDevice(rom *EEPROM, opts Options) *Device {
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if rom == nil {
		rom = NewEEPROM(DefaultSize)
	}
	return &Device{
		opts:   opts,
		rom:    rom,
		logger: logger.WithModule("emulator"),
	}
}

// Run 输出启动提示符后逐字节处理输入，直到输入结束
func (d *Device) Run(r io.Reader, w io.Writer) error {
	if d.opts.CRLF {
		w = &crlfWriter{w: w}
	}
	d.out = bufio.NewWriter(w)
	d.line = d.line[:0]
	d.esc = escNone

	d.print("\n" + Prompt)
	if err := d.out.Flush(); err != nil {
		return err
	}

	in := bufio.NewReader(r)
	for {
		ch, err := in.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		d.process(ch)

		// 没有更多已缓冲的输入时才刷新，保持与串口逐字节回显一致的可见效果
		if in.Buffered() == 0 {
			if err := d.out.Flush(); err != nil {
				return err
			}
		}
	}
}

// process 处理一个输入字节
func (d *Device) process(ch byte) {
	switch d.esc {
	case escStart:
		if ch == '[' {
			d.esc = escCSI
			return
		}
		d.esc = escNone
		return
	case escCSI:
		// CSI 序列以 0x40-0x7E 结束
		if ch >= 0x40 && ch <= 0x7e {
			d.esc = escNone
		}
		return
	}

	switch ch {
	case '\r':
		// 忽略
	case '\n':
		if len(d.line) > 0 {
			cmdline := string(d.line)
			d.print("\n")
			d.dispatch(cmdline)
			d.line = d.line[:0]
			d.print(Prompt)
		} else {
			d.print("\n" + Prompt)
		}
	case 27: // ESC
		d.esc = escStart
	case '\b', 0x7f:
		if len(d.line) > 0 {
			d.line = d.line[:len(d.line)-1]
			d.print("\b \b")
		}
	default:
		if ch == '\t' {
			ch = ' '
		}
		if ch >= 0x20 && ch <= 0x7e && len(d.line) < MaxLineSize-1 {
			d.line = append(d.line, ch)
			d.out.WriteByte(ch)
		}
	}
}

// dispatch 按命令首字母执行
func (d *Device) dispatch(cmdline string) {
	d.logger.Debug("执行命令", zap.String("cmdline", cmdline))

	switch unicode.ToUpper(rune(cmdline[0])) {
	case 'H':
		d.print(helpText)
	case 'R':
		d.cmdRead(cmdline)
	case 'W', 'E', 'B':
		d.println(replyNotImplemented)
	case 'L':
		d.rom.EnableSDP()
		d.println(replyOK)
	case 'U':
		d.rom.DisableSDP()
		d.println(replyOK)
	case 'V':
		d.println(d.opts.Version)
	default:
		d.println(replyUnknown)
	}
}

// cmdRead 以十六进制输出 ROM 开头的 256 字节
func (d *Device) cmdRead(cmdline string) {
	var b strings.Builder
	for i := 0; i < 256; i++ {
		if i&0x0f == 0x00 {
			fmt.Fprintf(&b, "%04X: ", i)
		}
		fmt.Fprintf(&b, "%02X ", d.rom.ReadByte(uint16(i)))
		if i&0x0f == 0x0f {
			b.WriteString("\n")
		}
	}
	d.print(b.String())
}

func (d *Device) print(s string) {
	d.out.WriteString(s)
}

func (d *Device) println(s string) {
	d.out.WriteString(s)
	d.out.WriteString("\n")
}

// crlfWriter 把 "\n" 转换成 "\r\n"
type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(c.w, strings.ReplaceAll(string(p), "\n", "\r\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}
