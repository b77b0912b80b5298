// Package nkt enables working with NKT SuperK supercontinuum sources fitted
// with a VARIA tunable filter.
package nkt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"github.com/nasa-jpl/labsweep/comm"
	"github.com/nasa-jpl/labsweep/generichttp/laser"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

const (
	// DefaultMainAddr is the bus address of the laser's main module
	DefaultMainAddr = 0x01

	// DefaultVariaAddr is the bus address of the VARIA module
	DefaultVariaAddr = 0x10

	// CommandInterval is the minimum time between two telegrams on the bus
	CommandInterval = 25 * time.Millisecond
)

// registers of the main module
const (
	RegEmission   = 0x30
	RegTrigger    = 0x31
	RegInterlock  = 0x32
	RegPower      = 0x3E
	RegRepetition = 0x71
)

// registers of the VARIA module.  The filter is a long- and short-wave pass
// pair, so the LWP edge is the bottom of the band and the SWP edge the top
const (
	RegND  = 0x32
	RegSWP = 0x33
	RegLWP = 0x34
)

var (
	// ErrNotOpen is generated when a command is sent to a closed source
	ErrNotOpen = errors.New("nkt: source is not open")

	// ErrBusy is generated when a module reports it is busy
	ErrBusy = errors.New("nkt: module busy")
)

// MakeSerConf makes a new serial config
func MakeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// Bus is a connection to the NKT interbus shared by every module on it.
// Telegrams are paced to CommandInterval and never interleaved.
type Bus struct {
	pool    *comm.Pool
	limiter *rate.Limiter
	mu      sync.Mutex
}

// NewBus returns a bus that talks to addr, a serial port if serial is true
// and a host:port otherwise.  Connections are opened on demand and closed
// after a few seconds of idle.
func NewBus(addr string, serialConn bool) *Bus {
	maker := func() (io.ReadWriteCloser, error) {
		if serialConn {
			return serial.OpenPort(MakeSerConf(addr))
		}
		return comm.TCPSetup(addr, comm.DefaultTimeout)
	}
	return newBus(maker)
}

func newBus(maker comm.CreationFunc) *Bus {
	return &Bus{
		pool:    comm.NewPool(1, 3*time.Second, maker),
		limiter: rate.NewLimiter(rate.Every(CommandInterval), 1),
	}
}

// Exchange sends a message and returns the decoded response
func (b *Bus) Exchange(mp MessagePrimitive) (MessagePrimitive, error) {
	tele, err := MakeTelegram(mp)
	if err != nil {
		return MessagePrimitive{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.limiter.Wait(context.Background())
	if err != nil {
		return MessagePrimitive{}, err
	}
	conn, err := b.pool.Get()
	if err != nil {
		return MessagePrimitive{}, err
	}
	_, err = conn.Write(tele)
	if err != nil {
		b.pool.Destroy(conn)
		return MessagePrimitive{}, err
	}
	resp, err := bufio.NewReader(conn).ReadBytes(telEnd)
	if err != nil {
		b.pool.Destroy(conn)
		return MessagePrimitive{}, err
	}
	b.pool.Put(conn)
	return DecodeTelegram(resp)
}

// Module is one addressable module on the bus
type Module struct {
	Bus  *Bus
	Addr byte
}

func (m Module) do(typ, register byte, data []byte) ([]byte, error) {
	req := MessagePrimitive{Dest: m.Addr, Src: getSourceAddr(), Type: typ, Register: register, Data: data}
	resp, err := m.Bus.Exchange(req)
	if err != nil {
		return nil, err
	}
	switch resp.Type {
	case Busy:
		return nil, ErrBusy
	case Nack, CRCError:
		return nil, fmt.Errorf("nkt: module %#02x register %#02x: %s", m.Addr, register, MessageTypes[resp.Type])
	}
	if resp.Register != register {
		return nil, fmt.Errorf("nkt: response for register %#02x, expected %#02x", resp.Register, register)
	}
	return resp.Data, nil
}

// ReadRegister returns the raw contents of a register
func (m Module) ReadRegister(register byte) ([]byte, error) {
	return m.do(Read, register, nil)
}

// WriteRegister writes raw bytes to a register
func (m Module) WriteRegister(register byte, data []byte) error {
	_, err := m.do(Write, register, data)
	return err
}

// ReadU16 reads a two byte register
func (m Module) ReadU16(register byte) (uint16, error) {
	b, err := m.ReadRegister(register)
	if err != nil {
		return 0, err
	}
	if len(b) < 2 {
		return 0, fmt.Errorf("nkt: register %#02x returned %d bytes, expected 2", register, len(b))
	}
	return dataOrder.Uint16(b), nil
}

// WriteU16 writes a two byte register
func (m Module) WriteU16(register byte, v uint16) error {
	b := make([]byte, 2)
	dataOrder.PutUint16(b, v)
	return m.WriteRegister(register, b)
}

// ReadU32 reads a four byte register
func (m Module) ReadU32(register byte) (uint32, error) {
	b, err := m.ReadRegister(register)
	if err != nil {
		return 0, err
	}
	if len(b) < 4 {
		return 0, fmt.Errorf("nkt: register %#02x returned %d bytes, expected 4", register, len(b))
	}
	return dataOrder.Uint32(b), nil
}

// SuperKVaria is a SuperK source with a VARIA filter.  It satisfies
// laser.Tunable, laser.Controller, laser.BandwidthController and
// laser.RepetitionRater.
type SuperKVaria struct {
	Main  Module
	Varia Module

	mu        sync.Mutex
	open      bool
	bandwidth float64
}

// NewSuperKVaria creates a new source on the given bus, using the default
// module addresses.  It is closed until Open is called.
func NewSuperKVaria(bus *Bus, bandwidth float64) *SuperKVaria {
	return &SuperKVaria{
		Main:      Module{Bus: bus, Addr: DefaultMainAddr},
		Varia:     Module{Bus: bus, Addr: DefaultVariaAddr},
		bandwidth: bandwidth,
	}
}

// Open releases the interlock, selects the internal trigger, turns emission on
// and reads back the current passband
func (s *SuperKVaria) Open() error {
	err := s.Main.WriteU16(RegInterlock, 1)
	if err != nil {
		return err
	}
	err = s.Main.WriteRegister(RegTrigger, []byte{0})
	if err != nil {
		return err
	}
	err = s.Main.WriteRegister(RegEmission, []byte{1})
	if err != nil {
		return err
	}
	cb, err := s.readCB()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.open = true
	if cb.Bandwidth > 0 {
		s.bandwidth = cb.Bandwidth
	}
	s.mu.Unlock()
	log.Printf("nkt: source open, passband %.1f nm wide at %.1f nm\n", cb.Bandwidth, cb.Center)
	return nil
}

// Close turns emission off and marks the source closed
func (s *SuperKVaria) Close() error {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	return s.Main.WriteRegister(RegEmission, []byte{0})
}

// IsOpen returns true if Open has succeeded and Close has not been called
func (s *SuperKVaria) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *SuperKVaria) checkOpen() error {
	if !s.IsOpen() {
		return ErrNotOpen
	}
	return nil
}

func (s *SuperKVaria) readCB() (laser.CenterBandwidth, error) {
	lo, err := s.Varia.ReadU16(RegLWP)
	if err != nil {
		return laser.CenterBandwidth{}, err
	}
	hi, err := s.Varia.ReadU16(RegSWP)
	if err != nil {
		return laser.CenterBandwidth{}, err
	}
	return laser.ShortLongToCB(float64(lo)/10, float64(hi)/10), nil
}

// GetCenterBandwidth reads the passband from the filter
func (s *SuperKVaria) GetCenterBandwidth() (laser.CenterBandwidth, error) {
	if err := s.checkOpen(); err != nil {
		return laser.CenterBandwidth{}, err
	}
	return s.readCB()
}

// SetCenterBandwidth moves both filter edges
func (s *SuperKVaria) SetCenterBandwidth(cb laser.CenterBandwidth) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	lo, hi := cb.ToShortLong()
	err := s.Varia.WriteU16(RegLWP, uint16(math.Round(lo*10)))
	if err != nil {
		return err
	}
	err = s.Varia.WriteU16(RegSWP, uint16(math.Round(hi*10)))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.bandwidth = cb.Bandwidth
	s.mu.Unlock()
	return nil
}

// SetWavelength moves the center of the passband, keeping its width
func (s *SuperKVaria) SetWavelength(nm float64) error {
	s.mu.Lock()
	bw := s.bandwidth
	s.mu.Unlock()
	return s.SetCenterBandwidth(laser.CenterBandwidth{Center: nm, Bandwidth: bw})
}

// Wavelength returns the center of the passband
func (s *SuperKVaria) Wavelength() (float64, error) {
	cb, err := s.GetCenterBandwidth()
	return cb.Center, err
}

// Bandwidth returns the full width of the passband
func (s *SuperKVaria) Bandwidth() (float64, error) {
	cb, err := s.GetCenterBandwidth()
	return cb.Bandwidth, err
}

// SetEmission turns emission on or off
func (s *SuperKVaria) SetEmission(on bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	var b byte
	if on {
		b = 1
	}
	return s.Main.WriteRegister(RegEmission, []byte{b})
}

// GetEmission queries if the source is emitting
func (s *SuperKVaria) GetEmission() (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	b, err := s.Main.ReadRegister(RegEmission)
	if err != nil {
		return false, err
	}
	return len(b) > 0 && b[0] > 0, nil
}

// RepetitionRate returns the pulse repetition rate in kHz
func (s *SuperKVaria) RepetitionRate() (float64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	hz, err := s.Main.ReadU32(RegRepetition)
	if err != nil {
		return 0, err
	}
	return float64(hz) / 1000, nil
}
