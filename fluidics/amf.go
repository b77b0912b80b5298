package fluidics

import (
	"bytes"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/nasa-jpl/labsweep/comm"
	"github.com/tarm/serial"
)

const (
	// SyringeVolume is the volume of the installed syringe, ul
	SyringeVolume = 250.

	// Steps is the number of plunger increments in a full stroke
	Steps = 3000

	statusReady = 0x20
	statusError = 0x0F
	etx         = 0x03
)

// errorCodes maps the low nibble of the status byte to a description
var errorCodes = map[byte]string{
	1:  "initialization error",
	2:  "invalid command",
	3:  "invalid operand",
	6:  "EEPROM failure",
	7:  "device not initialized",
	9:  "plunger overload",
	10: "valve overload",
	11: "plunger move not allowed",
	15: "command overflow",
}

// MakeSerConf makes a new serial config for the pump
func MakeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// AMF is an AMF LSPone syringe pump, which speaks the ASCII "/1...R" command
// set over RS232 or a serial-to-ethernet bridge
type AMF struct {
	comm.RemoteDevice

	// Ports is the valve plumbing, used to enforce which moves are allowed
	Ports Ports

	// ReadyTimeout bounds WaitUntilReady
	ReadyTimeout time.Duration

	mu       sync.Mutex
	open     bool
	lastPort int
	hasLast  bool
}

// NewAMF returns a new pump at addr.  It is closed until Open is called.
func NewAMF(addr string, serialConn bool, ports Ports) *AMF {
	a := &AMF{
		RemoteDevice: comm.NewRemoteDevice(addr, serialConn, MakeSerConf(addr)),
		Ports:        ports,
		ReadyTimeout: 2 * time.Minute,
	}
	a.RemoteDevice.Rx = '\n'
	return a
}

// command sends "/1<cmd>" and returns the status byte and data of the reply
func (a *AMF) command(cmd string) (byte, []byte, error) {
	resp, err := a.OpenSendRecv([]byte("/1" + cmd))
	if err != nil {
		return 0, nil, err
	}
	resp = bytes.TrimRight(resp, "\r")
	resp = bytes.TrimSuffix(resp, []byte{etx})
	if len(resp) < 3 || resp[0] != '/' || resp[1] != '0' {
		return 0, nil, fmt.Errorf("pump: malformed response %q", resp)
	}
	status := resp[2]
	if code := status & statusError; code != 0 {
		desc, ok := errorCodes[code]
		if !ok {
			desc = "error code " + strconv.Itoa(int(code))
		}
		return status, nil, fmt.Errorf("pump: %s in response to %q", desc, cmd)
	}
	return status, resp[3:], nil
}

// Open connects, homes the pump if it has not been initialized and marks it
// open
func (a *AMF) Open() error {
	_, data, err := a.command("?19000")
	if err != nil {
		return err
	}
	if string(data) != "1" {
		log.Println("pump: not homed, initializing")
		_, _, err = a.command("ZR")
		if err != nil {
			return err
		}
	}
	a.mu.Lock()
	a.open = true
	a.mu.Unlock()
	return a.WaitUntilReady()
}

// Close disconnects from the pump
func (a *AMF) Close() error {
	a.mu.Lock()
	a.open = false
	a.mu.Unlock()
	a.RemoteDevice.Lock()
	defer a.RemoteDevice.Unlock()
	return a.RemoteDevice.Close()
}

// IsOpen returns true if Open has succeeded and Close has not been called
func (a *AMF) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}

// volumeToSteps converts ul to plunger increments
func volumeToSteps(ul float64) int {
	return int(math.Round(ul / SyringeVolume * Steps))
}

// rateToSpeed converts ul/min to increments per second
func rateToSpeed(rate float64) int {
	return int(math.Round(rate / SyringeVolume * Steps / 60))
}

func (a *AMF) move(port int, ul, rate float64, plunger string) error {
	if !a.IsOpen() {
		return ErrNotOpen
	}
	if ul <= 0 {
		return fmt.Errorf("pump: volume must be positive, got %f", ul)
	}
	cmd := fmt.Sprintf("B%dV%d%s%dR", port, rateToSpeed(rate), plunger, volumeToSteps(ul))
	_, _, err := a.command(cmd)
	return err
}

// PickUp moves the valve to port and draws ul at the fast rate.  It does not
// wait for the move to finish.
func (a *AMF) PickUp(port int, ul float64) error {
	if err := a.Ports.CheckPickUp(port); err != nil {
		return err
	}
	err := a.move(port, ul, FastRate, "P")
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.lastPort, a.hasLast = port, true
	a.mu.Unlock()
	return nil
}

// Dispense moves the valve to port and pushes ul, slowly into the flowcell
// and quickly elsewhere.  It does not wait for the move to finish.
func (a *AMF) Dispense(port int, ul float64) error {
	if err := a.Ports.CheckDispense(port); err != nil {
		return err
	}
	return a.move(port, ul, a.Ports.DispenseRate(port), "D")
}

// Ready queries if the pump is idle
func (a *AMF) Ready() (bool, error) {
	status, _, err := a.command("Q")
	if err != nil {
		return false, err
	}
	return status&statusReady != 0, nil
}

// WaitUntilReady polls the pump with an exponential backoff until it reports
// idle, or ReadyTimeout elapses
func (a *AMF) WaitUntilReady() error {
	if !a.IsOpen() {
		return ErrNotOpen
	}
	op := func() error {
		ok, err := a.Ready()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errBusy
		}
		return nil
	}
	err := backoff.Retry(op, comm.NewBackOff(50*time.Millisecond, 500*time.Millisecond, a.ReadyTimeout))
	if perm, ok := err.(*backoff.PermanentError); ok {
		return perm.Err
	}
	if err == errBusy {
		return fmt.Errorf("pump: still busy after %s", a.ReadyTimeout)
	}
	return err
}

// LastPort returns the last port drawn from
func (a *AMF) LastPort() (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPort, a.hasLast
}
