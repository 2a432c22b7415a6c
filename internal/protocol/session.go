// Package protocol 把设备的字节流切分成命令/响应交互。
//
// 设备协议约定：
//
//   - 每次输出结束都以提示符 "> " 结尾；
//   - 设备原样回显收到的命令行（包括换行）；
//   - 响应最后是一个换行加提示符，共 3 个字符；
//   - 输出中的 '\r' 全部是噪声，解析前丢弃。
//
// Execute 依赖上面的固定偏移来剥离回显和提示符，不做长度前缀或转义。
package protocol

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	apperrors "github.com/wfunc/prog28c/internal/errors"
	"github.com/wfunc/prog28c/internal/logger"
	"github.com/wfunc/prog28c/internal/transport"
	"go.uber.org/zap"
)

// Prompt 设备提示符
const Prompt = "> "

// suffixLen 响应尾部的换行加提示符
const suffixLen = 1 + len(Prompt)

// ExchangeResult 一次命令交互的结果
type ExchangeResult struct {
	SessionID string
	Command   string
	Raw       string // 去掉 '\r' 后的完整输出，包括回显和提示符
	Payload   string
	Bytes     int // 读到的原始字节数（含 '\r'）
	Started   time.Time
	Duration  time.Duration
	Err       error
}

// ExchangeCallback 交互完成回调
type ExchangeCallback func(result *ExchangeResult)

// Option 会话选项
type Option func(*Session)

// WithDeadline 等待提示符的最长时间，0 表示一直等待
func WithDeadline(d time.Duration) Option {
	return func(s *Session) {
		s.deadline = d
	}
}

// WithExchangeCallback 每次 Execute 完成后回调
func WithExchangeCallback(cb ExchangeCallback) Option {
	return func(s *Session) {
		s.callback = cb
	}
}

// WithSessionID 指定会话ID（默认随机生成）
func WithSessionID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// WithClock 替换时钟（用于测试）
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// Session 协议会话
//
// 一个会话独占一个连接，不支持并发调用。
type Session struct {
	conn     transport.Conn
	id       string
	deadline time.Duration
	callback ExchangeCallback
	now      func() time.Time
	logger   *zap.Logger

	// 最近一次 AwaitMarker 读到的原始字节数
	lastBytes int
}

// NewSession 创建协议会话
func NewSession(conn transport.Conn, opts ...Option) *Session {
	s := &Session{
		conn: conn,
		id:   uuid.NewString(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.WithModule("serial").With(zap.String("session_id", s.id))
	return s
}

// ID 会话ID
func (s *Session) ID() string {
	return s.id
}

// AwaitMarker 读取直到缓冲区以提示符结尾，返回累积的全部文本
//
// 只在每次读到数据后检查缓冲区末尾两个字符，中间出现的 "> " 不会提前结束。
// 默认不设超时，设备一直不输出提示符时会永远阻塞。
func (s *Session) AwaitMarker() (string, error) {
	var (
		buf   []byte
		total int
		start = s.now()
	)

	for {
		chunk, err := s.conn.ReadChunk(transport.ChunkSize)
		if err != nil {
			s.lastBytes = total
			return "", err
		}

		if len(chunk) > 0 {
			total += len(chunk)
			buf = append(buf, stripCR(chunk)...)
		}

		if bytes.HasSuffix(buf, []byte(Prompt)) {
			break
		}

		if s.deadline > 0 && s.now().Sub(start) >= s.deadline {
			s.lastBytes = total
			return "", apperrors.Newf(apperrors.ErrPromptTimeout,
				"%v 内未收到提示符，已读取 %d 字节", s.deadline, total)
		}
	}

	s.lastBytes = total
	if !utf8.Valid(buf) {
		return "", apperrors.New(apperrors.ErrProtocolFraming, "设备输出不是有效的 UTF-8 文本")
	}

	return string(buf), nil
}

// WaitPrompt 同步设备启动时主动输出的提示符，原样返回
func (s *Session) WaitPrompt() (string, error) {
	banner, err := s.AwaitMarker()
	if err != nil {
		s.logger.Warn("等待设备提示符失败", zap.Error(err))
		return "", err
	}
	s.logger.Debug("设备已就绪", zap.String("banner", banner))
	return banner, nil
}

// Execute 发送一条命令并返回去掉回显和提示符的响应
func (s *Session) Execute(command string) (string, error) {
	result := &ExchangeResult{
		SessionID: s.id,
		Command:   command,
		Started:   s.now(),
	}

	result.Raw, result.Payload, result.Err = s.execute(command)
	result.Bytes = s.lastBytes
	result.Duration = s.now().Sub(result.Started)

	logger.LogExchange(s.id, command, result.Payload, result.Duration, result.Err)
	if s.callback != nil {
		s.callback(result)
	}

	if result.Err != nil {
		return "", result.Err
	}
	return result.Payload, nil
}

func (s *Session) execute(command string) (raw, payload string, err error) {
	s.lastBytes = 0
	if strings.ContainsAny(command, "\r\n") {
		return "", "", apperrors.Newf(apperrors.ErrInvalidParam, "命令不能包含换行符: %q", command)
	}

	encoded := []byte(command + "\n")
	if err := s.conn.Write(encoded); err != nil {
		return "", "", err
	}

	raw, err = s.AwaitMarker()
	if err != nil {
		return "", "", err
	}

	payload, err = Unwrap(raw, len(encoded))
	return raw, payload, err
}

// Unwrap 去掉响应开头 echoLen 个字符的命令回显和末尾的换行加提示符
func Unwrap(raw string, echoLen int) (string, error) {
	runes := []rune(raw)
	if len(runes) < echoLen+suffixLen {
		return "", apperrors.Newf(apperrors.ErrProtocolFraming,
			"响应长度 %d 小于回显 %d 加结尾 %d", len(runes), echoLen, suffixLen)
	}
	return string(runes[echoLen : len(runes)-suffixLen]), nil
}

func stripCR(chunk []byte) []byte {
	if bytes.IndexByte(chunk, '\r') < 0 {
		return chunk
	}
	return bytes.ReplaceAll(chunk, []byte{'\r'}, nil)
}
