package console

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/wfunc/prog28c/internal/config"
	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/logger"
	"github.com/wfunc/prog28c/internal/protocol"
	"go.uber.org/zap"
)

// ShellPrompt 交互模式的提示符
const ShellPrompt = "prog28c> "

const historyFileName = ".prog28c_history"

// Shell 交互模式：每输入一行执行一条设备命令
//
// 输入结束或 quit 时正常退出；出现严重错误时会话作废，返回该错误。
func (a *App) Shell() error {
	config.Watch(func(c *config.Config) {
		previous := logger.Level()
		logger.SetLevel(c.Log.Level)
		a.logger.Info("配置已更新",
			zap.Stringer("previous_level", previous),
			zap.String("log_level", c.Log.Level))
	}, func(err error) {
		a.logger.Warn("配置重载失败，继续使用旧配置", zap.Error(err))
	})

	editor := newLineEditor(a.in, a.out, historyPath())
	defer editor.Close()

	return a.withSession(func(s *protocol.Session) error {
		if editor.interactive() {
			fmt.Fprintln(a.out, "已连接设备，输入 quit 退出")
		}

		for {
			line, err := editor.ReadLine(ShellPrompt)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}

			cmd := strings.TrimSpace(line)
			switch cmd {
			case "":
				continue
			case "quit", "exit":
				return nil
			}

			payload, err := s.Execute(cmd)
			if err != nil {
				fmt.Fprintf(a.out, "错误: %v\n", err)
				if apperrors.IsCritical(err) {
					return err
				}
				continue
			}
			fmt.Fprintln(a.out, payload)
		}
	})
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, historyFileName)
}
