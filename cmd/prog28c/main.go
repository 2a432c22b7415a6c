package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/prog28c/internal/config"
	"github.com/wfunc/prog28c/internal/console"
	"github.com/wfunc/prog28c/internal/database"
	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/logger"
	"github.com/wfunc/prog28c/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 命令行参数
var (
	configPath = flag.String("config", "", "配置文件路径")
	emulate    = flag.Bool("emulate", false, "连接模拟器而不是串口")
	port       = flag.String("port", "", "串口设备（覆盖配置）")
	baud       = flag.Int("baud", 0, "波特率（覆盖配置）")
	deadline   = flag.Duration("deadline", -1, "等待提示符的最长时间，0 表示一直等待（覆盖配置）")
	showHelp   = flag.Bool("help", false, "显示帮助信息")
)

func main() {
	flag.Usage = printHelp
	flag.Parse()

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	os.Exit(run(flag.Args()))
}

func run(args []string) int {
	command := "demo"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return 1
	}
	cfg, err := config.Override(applyFlags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误: %v\n", err)
		return 1
	}

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		return 1
	}
	defer logger.Cleanup()

	// 历史记录
	var opts []console.Option
	if cfg.History.Enabled || command == "history" {
		db, err := openHistory(&cfg.History)
		if err != nil {
			fmt.Fprintf(os.Stderr, "打开历史记录失败: %v\n", err)
			return 1
		}
		defer database.Close(db)
		opts = append(opts, console.WithRepository(repository.NewExchangeRepository(db)))
	}

	app := console.New(cfg, opts...)

	switch command {
	case "demo":
		err = app.Demo()
	case "version":
		err = app.Version()
	case "exec":
		if len(args) == 0 {
			err = apperrors.New(apperrors.ErrInvalidParam, "exec 至少需要一条设备命令")
			break
		}
		err = app.Exec(args)
	case "shell":
		err = app.Shell()
	case "history":
		err = runHistory(app, args)
	default:
		fmt.Fprintf(os.Stderr, "未知命令: %s\n\n", command)
		printHelp()
		return 2
	}

	if err != nil {
		logger.Error("命令执行失败", zap.String("command", command), zap.Error(err))
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}

// applyFlags 命令行参数覆盖配置文件，配置重载后也会再次应用
func applyFlags(cfg *config.Config) {
	if *emulate {
		cfg.Transport.Kind = config.KindEmulated
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *baud > 0 {
		cfg.Serial.BaudRate = *baud
	}
	if *deadline >= 0 {
		cfg.Protocol.Deadline = *deadline
	}
}

func openHistory(cfg *config.HistoryConfig) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		database.Close(db)
		return nil, err
	}
	return db, nil
}

func runHistory(app *console.App, args []string) error {
	// Ctrl+C 时中断查询
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return app.HistoryCommand(ctx, args)
}

// printHelp 打印帮助信息
func printHelp() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "28C 系列 EEPROM 编程器命令行客户端")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "用法:")
	fmt.Fprintln(out, "  prog28c [选项] [命令] [参数...]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "命令:")
	fmt.Fprintln(out, "  demo              依次执行 demo.commands（默认）")
	fmt.Fprintln(out, "  version           显示客户端和固件版本")
	fmt.Fprintln(out, "  exec <cmd>...     每个参数作为一条设备命令执行")
	fmt.Fprintln(out, "  shell             交互模式")
	fmt.Fprintln(out, "  history [n]       显示最近 n 条交互记录")
	fmt.Fprintln(out, "    -session <id>   按会话筛选，单独使用时按时间顺序列出整个会话")
	fmt.Fprintln(out, "    -command <s>    命令包含 s")
	fmt.Fprintln(out, "    -transport <k>  serial 或 emulated")
	fmt.Fprintln(out, "    -errors         只显示失败的交互")
	fmt.Fprintln(out, "  history stats [since]  统计最近 since（如 24h）内的交互，省略时统计全部")
	fmt.Fprintln(out, "  history prune <age>    删除早于 age（如 720h）的记录")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "选项:")
	flag.PrintDefaults()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "环境变量:")
	fmt.Fprintln(out, "  PROG28C_TRANSPORT_KIND   serial 或 emulated")
	fmt.Fprintln(out, "  PROG28C_SERIAL_PORT      串口设备")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "示例:")
	fmt.Fprintln(out, "  prog28c -port /dev/ttyUSB0 version")
	fmt.Fprintln(out, "  prog28c -emulate exec v h")
}
