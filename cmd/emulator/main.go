// 编程器固件模拟器：在标准输入输出上提供与设备相同的命令行，
// 供 prog28c 以 emulated 方式通过伪终端连接。
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wfunc/prog28c/internal/config"
	"github.com/wfunc/prog28c/internal/emulator"
	"github.com/wfunc/prog28c/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/term"
)

func main() {
	var (
		version = flag.String("version", emulator.DefaultVersion, "v 命令返回的版本字符串")
		image   = flag.String("image", "", "启动时装入 EEPROM 的镜像文件")
		logFile = flag.String("log", "", "日志文件路径（标准输出是设备通道，日志只能写文件）")
	)
	flag.Parse()

	if *logFile != "" {
		if err := logger.Init(&config.LogConfig{
			Level:  "debug",
			Format: "json",
			Output: "file",
			File: config.LogFileConfig{
				Path:     filepath.Dir(*logFile),
				Filename: filepath.Base(*logFile),
				MaxSize:  10,
			},
		}); err != nil {
			fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
			os.Exit(1)
		}
		defer logger.Cleanup()
	}

	rom := emulator.NewEEPROM(emulator.DefaultSize)
	if *image != "" {
		data, err := os.ReadFile(*image)
		if err != nil {
			fmt.Fprintf(os.Stderr, "读取镜像失败: %v\n", err)
			os.Exit(1)
		}
		n := rom.Load(data)
		logger.Info("已装入镜像", zap.String("file", *image), zap.Int("bytes", n))
	}

	opts := emulator.Options{Version: *version}

	// 终端处于 raw 模式后不再做换行转换，需要自己输出 "\r\n"
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "设置终端 raw 模式失败: %v\n", err)
			os.Exit(1)
		}
		defer term.Restore(fd, state)
		opts.CRLF = true
	}

	device := emulator.NewDevice(rom, opts)
	if err := device.Run(os.Stdin, os.Stdout); err != nil {
		logger.Error("模拟器异常退出", zap.Error(err))
	}
}
