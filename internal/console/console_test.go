package console

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/prog28c/internal/config"
	"github.com/wfunc/prog28c/internal/database"
	"github.com/wfunc/prog28c/internal/emulator"
	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/models"
	"github.com/wfunc/prog28c/internal/protocol"
	"github.com/wfunc/prog28c/internal/repository"
	"github.com/wfunc/prog28c/internal/transport"
)

func testConfig() *config.Config {
	return &config.Config{
		Transport: config.TransportConfig{Kind: config.KindEmulated},
		Emulator:  config.EmulatorConfig{Path: "./bin/emulator"},
		Demo:      config.DemoConfig{Commands: []string{"v", "h"}},
		History:   config.HistoryConfig{Driver: "sqlite", DSN: ":memory:"},
	}
}

func emulated() transport.Opener {
	return emulator.Opener(nil, emulator.Options{CRLF: true})
}

// mockOpener 每次打开都返回同一个 MockConn
func mockOpener(conn *transport.MockConn) transport.Opener {
	return func() (transport.Conn, error) {
		return conn, nil
	}
}

func TestDemo(t *testing.T) {
	var out bytes.Buffer
	app := New(testConfig(), WithOpener(emulated()), WithOutput(&out))

	require.NoError(t, app.Demo())
	assert.True(t, strings.HasPrefix(out.String(), "Version 0.0.1\nh - help\n"), out.String())
	assert.True(t, strings.HasSuffix(out.String(), "v - print version\n"))
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	app := New(testConfig(), WithOpener(emulated()), WithOutput(&out))

	require.NoError(t, app.Version())
	assert.Equal(t, "CLI Version: 0.0.1\nFirmware Version 0.0.1\n", out.String())
}

func TestVersion_DeviceUnavailable(t *testing.T) {
	var out bytes.Buffer
	openErr := apperrors.New(apperrors.ErrTransportUnavailable, "/dev/missing")
	app := New(testConfig(), WithOutput(&out), WithOpener(func() (transport.Conn, error) {
		return nil, openErr
	}))

	require.NoError(t, app.Version())
	want := "Unexpected error: " + openErr.Message + "\n" +
		"CLI Version: 0.0.1\nFirmware Unknown\n"
	assert.Equal(t, want, out.String())
}

func TestVersion_ConfiguredEmulatorMissing(t *testing.T) {
	var out bytes.Buffer
	cfg := testConfig()
	cfg.Emulator.Path = filepath.Join(t.TempDir(), "no-emulator")
	app := New(cfg, WithOutput(&out))

	require.NoError(t, app.Version())
	want := "Unexpected error: 设备连接不可用\n" +
		"CLI Version: 0.0.1\nFirmware Unknown\n"
	assert.Equal(t, want, out.String())
}

func TestVersion_FramingErrorClosesOnce(t *testing.T) {
	var out bytes.Buffer
	conn := transport.NewMockConn("\r\n> ")
	conn.Responder = func(p []byte) []string { return []string{"\r\n> "} }
	app := New(testConfig(), WithOutput(&out), WithOpener(mockOpener(conn)))

	require.NoError(t, app.Version())
	assert.Contains(t, out.String(), "Firmware Unknown")
	assert.Equal(t, 1, conn.CloseCount())
}

func TestExec(t *testing.T) {
	var out bytes.Buffer
	app := New(testConfig(), WithOpener(emulated()), WithOutput(&out))

	require.NoError(t, app.Exec([]string{"v", "l", "q"}))
	assert.Equal(t, "Version 0.0.1\nOK\nUnknown command. Type 'h' for help.\n", out.String())
}

func TestExec_StopsAtFirstError(t *testing.T) {
	var out bytes.Buffer
	conn := transport.NewMockConn("\r\n> ")
	conn.Responder = func(p []byte) []string { return []string{"\r\n> "} }
	app := New(testConfig(), WithOutput(&out), WithOpener(mockOpener(conn)))

	err := app.Exec([]string{"v", "h"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrProtocolFraming))
	assert.Equal(t, "v\n", conn.Written())
	assert.Equal(t, 1, conn.CloseCount())
	assert.Empty(t, out.String())
}

func TestExec_PromptNeverArrives(t *testing.T) {
	cfg := testConfig()
	cfg.Protocol.Deadline = 50 * time.Millisecond

	conn := transport.NewMockConn("booting")
	conn.IdleDelay = time.Millisecond
	app := New(cfg, WithOutput(&bytes.Buffer{}), WithOpener(mockOpener(conn)))

	err := app.Exec([]string{"v"})
	assert.True(t, apperrors.Is(err, apperrors.ErrPromptTimeout))
	assert.Empty(t, conn.Written())
	assert.Equal(t, 1, conn.CloseCount())
}

func TestShell(t *testing.T) {
	var out bytes.Buffer
	app := New(testConfig(),
		WithOpener(emulated()),
		WithInput(strings.NewReader("v\n\nzzz\nquit\nv\n")),
		WithOutput(&out))

	require.NoError(t, app.Shell())
	want := ShellPrompt + "Version 0.0.1\n" +
		ShellPrompt +
		ShellPrompt + "Unknown command. Type 'h' for help.\n" +
		ShellPrompt
	assert.Equal(t, want, out.String())
}

func TestShell_EndOfInput(t *testing.T) {
	var out bytes.Buffer
	app := New(testConfig(),
		WithOpener(emulated()),
		WithInput(strings.NewReader("  u  \n")),
		WithOutput(&out))

	require.NoError(t, app.Shell())
	assert.Equal(t, ShellPrompt+"OK\n"+ShellPrompt, out.String())
}

func TestShell_TransportFailure(t *testing.T) {
	var out bytes.Buffer
	conn := transport.NewMockConn("\r\n> ")
	conn.ReadErr = apperrors.New(apperrors.ErrTransportIO, "device stream closed")
	app := New(testConfig(),
		WithOpener(mockOpener(conn)),
		WithInput(strings.NewReader("v\nv\n")),
		WithOutput(&out))

	err := app.Shell()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrTransportIO))
	assert.Contains(t, out.String(), "错误:")
	assert.Equal(t, "v\n", conn.Written())
	assert.Equal(t, 1, conn.CloseCount())
}

func TestShell_FramingErrorEndsSession(t *testing.T) {
	var out bytes.Buffer
	conn := transport.NewMockConn("\r\n> ")
	conn.Responder = func(p []byte) []string { return []string{"\r\n> "} }
	app := New(testConfig(),
		WithOpener(mockOpener(conn)),
		WithInput(strings.NewReader("v\nh\n")),
		WithOutput(&out))

	err := app.Shell()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrProtocolFraming))
	assert.Equal(t, ShellPrompt+"错误: "+err.Error()+"\n", out.String())
	assert.Equal(t, "v\n", conn.Written())
	assert.Equal(t, 1, conn.CloseCount())
}

func openHistory(t *testing.T) repository.ExchangeRepository {
	t.Helper()
	db, err := database.Open(&config.HistoryConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	require.NoError(t, database.AutoMigrate(db))
	return repository.NewExchangeRepository(db)
}

func TestHistory_RecordsExchanges(t *testing.T) {
	cfg := testConfig()
	cfg.History.Enabled = true
	repo := openHistory(t)

	var out bytes.Buffer
	app := New(cfg, WithOpener(emulated()), WithOutput(&out), WithRepository(repo))

	require.NoError(t, app.Exec([]string{"v", "l"}))
	err := app.Exec([]string{""})
	require.True(t, apperrors.Is(err, apperrors.ErrProtocolFraming))

	out.Reset()
	require.NoError(t, app.History(context.Background(), HistoryFilter{Limit: 10}))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `""`)
	assert.Contains(t, lines[0], "ERR 3002")
	assert.Contains(t, lines[1], `"l"`)
	assert.Contains(t, lines[2], `"v"`)
	assert.True(t, strings.HasSuffix(lines[2], "OK"))

	recent := allExchanges(t, repo)
	require.Len(t, recent, 3)
	assert.Equal(t, "Version 0.0.1", recent[2].Payload)
	assert.Equal(t, "v\nVersion 0.0.1\n> ", recent[2].Raw)
	assert.Equal(t, string(transport.KindEmulated), recent[2].Transport)
	assert.Equal(t, "./bin/emulator", recent[2].Port)
	// 两条成功的命令属于同一个会话
	assert.Equal(t, recent[1].SessionID, recent[2].SessionID)
	assert.NotEqual(t, recent[0].SessionID, recent[1].SessionID)
}

// allExchanges 全部记录，最新的在前
func allExchanges(t *testing.T, repo repository.ExchangeRepository) []*models.Exchange {
	t.Helper()
	exchanges, _, err := repo.Query(context.Background(), &models.ExchangeQuery{})
	require.NoError(t, err)
	return exchanges
}

// recordedApp 执行 v、l 和一条必然帧错误的空命令后返回
func recordedApp(t *testing.T, out *bytes.Buffer) (*App, repository.ExchangeRepository) {
	t.Helper()
	cfg := testConfig()
	cfg.History.Enabled = true
	repo := openHistory(t)

	app := New(cfg, WithOpener(emulated()), WithOutput(out), WithRepository(repo))
	require.NoError(t, app.Exec([]string{"v", "l"}))
	require.Error(t, app.Exec([]string{""}))
	out.Reset()
	return app, repo
}

func outputLines(out *bytes.Buffer) []string {
	text := strings.TrimSuffix(out.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func TestHistoryCommand_Filters(t *testing.T) {
	var out bytes.Buffer
	app, repo := recordedApp(t, &out)
	ctx := context.Background()
	vSession := allExchanges(t, repo)[2].SessionID

	tests := []struct {
		name  string
		args  []string
		lines []string // 每行应包含的内容
	}{
		{"errors only", []string{"-errors"}, []string{"ERR 3002"}},
		{"command", []string{"-command", "l"}, []string{`"l"`}},
		{"transport", []string{"-transport", "serial"}, nil},
		{"whole session in order", []string{"-session", vSession}, []string{`"v"`, `"l"`}},
		{"session with errors", []string{"-session", vSession, "-errors"}, nil},
		{"limit", []string{"1"}, []string{`""`, "共 3 条，显示最近 1 条"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			require.NoError(t, app.HistoryCommand(ctx, tt.args))
			lines := outputLines(&out)
			require.Len(t, lines, len(tt.lines), out.String())
			for i, want := range tt.lines {
				assert.Contains(t, lines[i], want)
			}
		})
	}
}

func TestHistoryCommand_Stats(t *testing.T) {
	var out bytes.Buffer
	app, _ := recordedApp(t, &out)

	require.NoError(t, app.HistoryCommand(context.Background(), []string{"stats"}))
	assert.Contains(t, out.String(), "交互次数: 3\n")
	assert.Contains(t, out.String(), "失败次数: 1\n")

	out.Reset()
	require.NoError(t, app.HistoryCommand(context.Background(), []string{"stats", "1h"}))
	assert.Contains(t, out.String(), "交互次数: 3\n")
}

func TestHistoryCommand_Prune(t *testing.T) {
	var out bytes.Buffer
	app, repo := recordedApp(t, &out)
	ctx := context.Background()

	old := &models.Exchange{
		CreatedAt: time.Now().Add(-48 * time.Hour),
		SessionID: "old-session",
		Transport: "serial",
		Command:   "v",
	}
	require.NoError(t, repo.Create(ctx, old))
	require.Len(t, allExchanges(t, repo), 4)

	require.NoError(t, app.HistoryCommand(ctx, []string{"prune", "24h"}))
	assert.Equal(t, "已删除 1 条记录\n", out.String())

	remaining := allExchanges(t, repo)
	require.Len(t, remaining, 3)
	for _, e := range remaining {
		assert.NotEqual(t, "old-session", e.SessionID)
	}
}

func TestHistoryCommand_InvalidArgs(t *testing.T) {
	var out bytes.Buffer
	app, _ := recordedApp(t, &out)

	for _, args := range [][]string{
		{"0"},
		{"many"},
		{"-bogus"},
		{"prune"},
		{"prune", "abc"},
		{"prune", "-1h"},
		{"stats", "0s"},
	} {
		err := app.HistoryCommand(context.Background(), args)
		assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParam), "%v: %v", args, err)
	}
	assert.Empty(t, out.String())
}

func TestHistory_NotConfigured(t *testing.T) {
	app := New(testConfig(), WithOutput(&bytes.Buffer{}))
	ctx := context.Background()

	assert.True(t, apperrors.Is(app.History(ctx, HistoryFilter{}), apperrors.ErrInvalidParam))
	assert.True(t, apperrors.Is(app.HistoryStats(ctx, 0), apperrors.ErrInvalidParam))
	assert.True(t, apperrors.Is(app.HistoryPrune(ctx, time.Hour), apperrors.ErrInvalidParam))
}

func TestHistory_DisabledDoesNotRecord(t *testing.T) {
	repo := openHistory(t)
	app := New(testConfig(), WithOpener(emulated()), WithOutput(&bytes.Buffer{}), WithRepository(repo))

	require.NoError(t, app.Exec([]string{"v"}))

	assert.Empty(t, allExchanges(t, repo))
}

func TestToModel(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	result := &protocol.ExchangeResult{
		SessionID: "sess",
		Command:   "v",
		Raw:       "\n> ",
		Bytes:     5,
		Started:   started,
		Duration:  1500 * time.Millisecond,
		Err:       apperrors.New(apperrors.ErrProtocolFraming, "too short"),
	}

	e := ToModel(result, "serial", "/dev/ttyUSB0")
	assert.Equal(t, started, e.CreatedAt)
	assert.Equal(t, int64(1500), e.Duration)
	assert.Equal(t, 5, e.BytesCount)
	assert.Equal(t, int(apperrors.ErrProtocolFraming), e.ErrorCode)
	assert.Contains(t, e.ErrorMsg, "too short")
	assert.True(t, e.Failed())
}

func TestCoarse(t *testing.T) {
	assert.Equal(t, "未知错误", coarse(errors.New("plain")))
	assert.Equal(t, "设备读写失败", coarse(apperrors.New(apperrors.ErrTransportIO, "x")))
}
