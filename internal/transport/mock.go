package transport

import (
	"bytes"
	"sync"
	"time"

	apperrors "github.com/wfunc/prog28c/internal/errors"
)

// maxIdleReads 连续空读次数上限，超过后 MockConn 报错而不是让测试永远挂住
const maxIdleReads = 10000

// MockConn 模拟连接（用于测试）
//
// 读取依次返回排队的数据块；每次 Write 之后调用 Responder，
// 它返回的数据块追加到读队列。队列为空时返回空块，模拟串口读超时。
type MockConn struct {
	mu         sync.Mutex
	chunks     [][]byte
	written    bytes.Buffer
	idleReads  int
	closeCount int
	readCount  int

	// Responder 处理写入的数据，返回设备随后输出的数据块
	Responder func(p []byte) []string
	// ReadErr 读队列耗尽时返回的错误
	ReadErr error
	// WriteErr Write 返回的错误
	WriteErr error
	// CloseErr Close 返回的错误
	CloseErr error
	// IdleDelay 每次空读等待的时间，模拟串口读超时
	IdleDelay time.Duration
}

// NewMockConn 创建模拟连接，chunks 为设备预先输出的数据
func NewMockConn(chunks ...string) *MockConn {
	m := &MockConn{}
	m.Feed(chunks...)
	return m
}

// Feed 追加设备输出
func (m *MockConn) Feed(chunks ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks = append(m.chunks, []byte(c))
	}
}

// ReadChunk 返回下一个数据块，超过 max 的部分留到下次读取
func (m *MockConn) ReadChunk(max int) ([]byte, error) {
	chunk, idle, err := m.next(max)
	if idle && m.IdleDelay > 0 {
		time.Sleep(m.IdleDelay)
	}
	return chunk, err
}

func (m *MockConn) next(max int) (chunk []byte, idle bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readCount++
	if max <= 0 {
		max = ChunkSize
	}

	if len(m.chunks) == 0 {
		if m.ReadErr != nil {
			return nil, false, m.ReadErr
		}
		m.idleReads++
		if m.idleReads > maxIdleReads {
			return nil, false, apperrors.New(apperrors.ErrTransportIO, "mock: no more data")
		}
		return []byte{}, true, nil
	}

	m.idleReads = 0
	chunk = m.chunks[0]
	if len(chunk) > max {
		m.chunks[0] = chunk[max:]
		return chunk[:max], false, nil
	}
	m.chunks = m.chunks[1:]
	return chunk, false, nil
}

// Write 记录写入并触发 Responder
func (m *MockConn) Write(p []byte) error {
	m.mu.Lock()
	if m.WriteErr != nil {
		err := m.WriteErr
		m.mu.Unlock()
		return err
	}
	m.written.Write(p)
	responder := m.Responder
	m.mu.Unlock()

	if responder != nil {
		m.Feed(responder(append([]byte(nil), p...))...)
	}
	return nil
}

// Close 记录关闭次数
func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCount++
	return m.CloseErr
}

// Written 返回已写入的全部数据
func (m *MockConn) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

// CloseCount 返回 Close 被调用的次数
func (m *MockConn) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

// ReadCount 返回 ReadChunk 被调用的次数
func (m *MockConn) ReadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCount
}
