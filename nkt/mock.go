package nkt

import (
	"bytes"
	"io"
	"sync"
)

// MockDevice emulates the interbus of a SuperK with a VARIA at the telegram
// level.  Every register is a byte slice; reads of unknown registers are
// Nack'd.
type MockDevice struct {
	sync.Mutex
	regs    map[[2]byte][]byte
	pending bytes.Buffer

	// Writes counts the write telegrams received, by module and register
	Writes map[[2]byte]int
}

// NewMockDevice returns a mock with a 500-600 nm passband and a 78 MHz
// repetition rate
func NewMockDevice() *MockDevice {
	m := &MockDevice{regs: map[[2]byte][]byte{}, Writes: map[[2]byte]int{}}
	m.regs[[2]byte{DefaultMainAddr, RegEmission}] = []byte{0}
	m.regs[[2]byte{DefaultMainAddr, RegTrigger}] = []byte{0}
	m.regs[[2]byte{DefaultMainAddr, RegInterlock}] = []byte{0, 0}
	m.regs[[2]byte{DefaultMainAddr, RegRepetition}] = []byte{0x80, 0x2F, 0xA6, 0x04}
	m.regs[[2]byte{DefaultVariaAddr, RegLWP}] = []byte{0x88, 0x13}
	m.regs[[2]byte{DefaultVariaAddr, RegSWP}] = []byte{0x70, 0x17}
	return m
}

// Write accepts one telegram and queues the response
func (m *MockDevice) Write(p []byte) (int, error) {
	m.Lock()
	defer m.Unlock()
	req, err := DecodeTelegram(p)
	var resp MessagePrimitive
	if err != nil {
		resp = MessagePrimitive{Type: CRCError}
	} else {
		key := [2]byte{req.Dest, req.Register}
		resp = MessagePrimitive{Dest: req.Src, Src: req.Dest, Register: req.Register}
		switch req.Type {
		case Read:
			v, ok := m.regs[key]
			if ok {
				resp.Type = Datagram
				resp.Data = append([]byte(nil), v...)
			} else {
				resp.Type = Nack
			}
		case Write:
			m.regs[key] = append([]byte(nil), req.Data...)
			m.Writes[key]++
			resp.Type = Ack
		default:
			resp.Type = Nack
		}
	}
	tele, _ := MakeTelegram(resp)
	m.pending.Write(tele)
	return len(p), nil
}

// Read drains queued responses
func (m *MockDevice) Read(p []byte) (int, error) {
	m.Lock()
	defer m.Unlock()
	if m.pending.Len() == 0 {
		return 0, io.EOF
	}
	return m.pending.Read(p)
}

// Close is a no-op
func (m *MockDevice) Close() error {
	return nil
}

// Register returns a copy of the contents of a register
func (m *MockDevice) Register(module, register byte) []byte {
	m.Lock()
	defer m.Unlock()
	return append([]byte(nil), m.regs[[2]byte{module, register}]...)
}

// NewMockSuperKVaria returns a source wired to a MockDevice
func NewMockSuperKVaria(bandwidth float64) (*SuperKVaria, *MockDevice) {
	dev := NewMockDevice()
	bus := newBus(func() (io.ReadWriteCloser, error) { return dev, nil })
	return NewSuperKVaria(bus, bandwidth), dev
}
