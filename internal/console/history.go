package console

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"time"

	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/models"
)

// DefaultHistoryLimit history 命令默认显示的条数
const DefaultHistoryLimit = 20

// HistoryFilter 历史记录筛选条件
type HistoryFilter struct {
	Limit      int
	SessionID  string // 只给出会话时按时间正序列出整个会话
	Command    string // 命令包含的子串
	Transport  string
	ErrorsOnly bool
}

func (f HistoryFilter) sessionOnly() bool {
	return f.SessionID != "" && f.Command == "" && f.Transport == "" && !f.ErrorsOnly
}

// HistoryCommand 解析 history 子命令的参数并执行
//
//	history [-session id] [-command s] [-transport kind] [-errors] [n]
//	history stats [since]
//	history prune <age>
func (a *App) HistoryCommand(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "stats":
			var since time.Duration
			if len(args) > 1 {
				d, err := parseAge(args[1])
				if err != nil {
					return err
				}
				since = d
			}
			return a.HistoryStats(ctx, since)
		case "prune":
			if len(args) < 2 {
				return apperrors.New(apperrors.ErrInvalidParam, "prune 需要保留时长，例如 72h")
			}
			age, err := parseAge(args[1])
			if err != nil {
				return err
			}
			return a.HistoryPrune(ctx, age)
		}
	}

	filter, err := parseHistoryFlags(args)
	if err != nil {
		return err
	}
	return a.History(ctx, filter)
}

func parseHistoryFlags(args []string) (HistoryFilter, error) {
	var filter HistoryFilter

	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&filter.SessionID, "session", "", "会话ID")
	fs.StringVar(&filter.Command, "command", "", "命令包含的内容")
	fs.StringVar(&filter.Transport, "transport", "", "serial 或 emulated")
	fs.BoolVar(&filter.ErrorsOnly, "errors", false, "只显示失败的交互")
	if err := fs.Parse(args); err != nil {
		return filter, apperrors.Wrap(err, apperrors.ErrInvalidParam, "history 参数")
	}

	if fs.NArg() > 0 {
		n, err := strconv.Atoi(fs.Arg(0))
		if err != nil || n <= 0 {
			return filter, apperrors.Newf(apperrors.ErrInvalidParam, "条数无效: %q", fs.Arg(0))
		}
		filter.Limit = n
	}
	return filter, nil
}

func parseAge(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidParam, "时长无效: %q", s)
	}
	return d, nil
}

// History 打印符合条件的交互记录，最新的在前
func (a *App) History(ctx context.Context, filter HistoryFilter) error {
	if a.repo == nil {
		return errNoHistory()
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultHistoryLimit
	}

	if filter.sessionOnly() {
		exchanges, err := a.repo.GetBySessionID(ctx, filter.SessionID)
		if err != nil {
			return err
		}
		for _, e := range exchanges {
			fmt.Fprintln(a.out, formatExchange(e))
		}
		return nil
	}

	query := &models.ExchangeQuery{
		SessionID: filter.SessionID,
		Command:   filter.Command,
		Transport: filter.Transport,
		Limit:     filter.Limit,
	}
	if filter.ErrorsOnly {
		hasError := true
		query.HasError = &hasError
	}

	exchanges, total, err := a.repo.Query(ctx, query)
	if err != nil {
		return err
	}
	for _, e := range exchanges {
		fmt.Fprintln(a.out, formatExchange(e))
	}
	if total > int64(len(exchanges)) {
		fmt.Fprintf(a.out, "共 %d 条，显示最近 %d 条\n", total, len(exchanges))
	}
	return nil
}

// HistoryStats 打印统计信息，since 为 0 时统计全部记录
func (a *App) HistoryStats(ctx context.Context, since time.Duration) error {
	if a.repo == nil {
		return errNoHistory()
	}

	var from *time.Time
	if since > 0 {
		t := time.Now().Add(-since)
		from = &t
	}

	stats, err := a.repo.Stats(ctx, from)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "交互次数: %d\n", stats.TotalCount)
	fmt.Fprintf(a.out, "失败次数: %d\n", stats.TotalErrors)
	fmt.Fprintf(a.out, "接收字节: %d\n", stats.TotalBytes)
	fmt.Fprintf(a.out, "平均耗时: %.1fms\n", stats.AvgDuration)
	fmt.Fprintf(a.out, "最长耗时: %dms\n", stats.MaxDuration)
	return nil
}

// HistoryPrune 删除早于 age 的记录
func (a *App) HistoryPrune(ctx context.Context, age time.Duration) error {
	if a.repo == nil {
		return errNoHistory()
	}
	if age <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidParam, "保留时长必须为正数: %s", age)
	}

	n, err := a.repo.DeleteBefore(ctx, time.Now().Add(-age))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "已删除 %d 条记录\n", n)
	return nil
}

func errNoHistory() error {
	return apperrors.New(apperrors.ErrInvalidParam, "未配置历史记录存储")
}

func formatExchange(e *models.Exchange) string {
	status := "OK"
	if e.Failed() {
		status = fmt.Sprintf("ERR %d", e.ErrorCode)
	}

	sessionID := e.SessionID
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}

	return fmt.Sprintf("%s  %-8s  %-12q  %5dms  %s",
		time.UnixMilli(e.Timestamp).Format("2006-01-02 15:04:05"),
		sessionID, e.Command, e.Duration, status)
}
