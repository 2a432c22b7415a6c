package protocol_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/prog28c/internal/emulator"
	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/protocol"
)

// 与进程内模拟设备完整交互
func TestSession_AgainstEmulator(t *testing.T) {
	conn := emulator.Connect(emulator.NewDevice(nil, emulator.Options{CRLF: true}))
	defer conn.Close()

	session := protocol.NewSession(conn)

	banner, err := session.WaitPrompt()
	require.NoError(t, err)
	assert.Equal(t, "\n> ", banner)

	got, err := session.Execute("v")
	require.NoError(t, err)
	assert.Equal(t, "Version 0.0.1", got)

	got, err = session.Execute("h")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "h - help\nr [start_address] [count] - read ROM\n"))
	assert.True(t, strings.HasSuffix(got, "v - print version"))

	got, err = session.Execute("q")
	require.NoError(t, err)
	assert.Equal(t, "Unknown command. Type 'h' for help.", got)

	got, err = session.Execute("r")
	require.NoError(t, err)
	lines := strings.Split(got, "\n")
	assert.Len(t, lines, 16)
	assert.True(t, strings.HasPrefix(lines[0], "0000: FF FF"))

	// 空命令时设备只输出 "\n> "，长度不够剥离
	_, err = session.Execute("")
	assert.True(t, apperrors.Is(err, apperrors.ErrProtocolFraming))

	// 提示符已经读走，会话仍然同步
	got, err = session.Execute("l")
	require.NoError(t, err)
	assert.Equal(t, "OK", got)
}
