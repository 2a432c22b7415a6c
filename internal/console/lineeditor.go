package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

// historySize 行编辑器保留的历史条数
const historySize = 500

// lineEditor 终端上用 readline 编辑，管道输入时逐行读取
type lineEditor struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
	out     io.Writer
}

// newLineEditor 只有输入是终端时才启用 readline
func newLineEditor(in io.Reader, out io.Writer, historyFile string) *lineEditor {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		rl, err := readline.NewFromConfig(&readline.Config{
			HistoryFile:            historyFile,
			HistoryLimit:           historySize,
			DisableAutoSaveHistory: true,
		})
		if err == nil {
			return &lineEditor{rl: rl, out: out}
		}
		fmt.Fprintf(os.Stderr, "readline 初始化失败 (%v)，使用普通输入\n", err)
	}

	return &lineEditor{scanner: bufio.NewScanner(in), out: out}
}

// interactive 是否在终端上
func (le *lineEditor) interactive() bool {
	return le.rl != nil
}

// ReadLine 读取一行，输入结束或 Ctrl-C 时返回 io.EOF
func (le *lineEditor) ReadLine(prompt string) (string, error) {
	if le.rl != nil {
		le.rl.SetPrompt(prompt)
		line, err := le.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				return "", io.EOF
			}
			return "", err
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			le.rl.SaveToHistory(trimmed)
		}
		return line, nil
	}

	fmt.Fprint(le.out, prompt)
	if !le.scanner.Scan() {
		if err := le.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return le.scanner.Text(), nil
}

// Close 保存历史并释放终端
func (le *lineEditor) Close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}
