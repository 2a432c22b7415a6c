package emulator

import "sync"

// DefaultSize 28C256 的容量
const DefaultSize = 32 * 1024

// EEPROM 模拟的并行 EEPROM
//
// 数据总线悬空时读出 0xFF，所以初始内容全部为 0xFF。
type EEPROM struct {
	mu   sync.RWMutex
	data []byte
	sdp  bool
}

// NewEEPROM 创建指定容量的 EEPROM，size 不为正数时使用 DefaultSize
func NewEEPROM(size int) *EEPROM {
	if size <= 0 {
		size = DefaultSize
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xff
	}
	return &EEPROM{data: data}
}

// Size 容量
func (e *EEPROM) Size() int {
	return len(e.data)
}

// ReadByte 读取一个字节，地址按容量回绕
func (e *EEPROM) ReadByte(address uint16) byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.data[int(address)%len(e.data)]
}

// WriteByte 写入一个字节，写保护开启时忽略
func (e *EEPROM) WriteByte(address uint16, d byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sdp {
		return
	}
	e.data[int(address)%len(e.data)] = d
}

// Load 从地址 0 开始装入镜像，超出容量的部分丢弃
func (e *EEPROM) Load(image []byte) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return copy(e.data, image)
}

// EnableSDP 开启软件数据保护
func (e *EEPROM) EnableSDP() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sdp = true
}

// DisableSDP 关闭软件数据保护
func (e *EEPROM) DisableSDP() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sdp = false
}

// Protected 是否处于写保护状态
func (e *EEPROM) Protected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sdp
}
