package motion

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"

	"github.com/nasa-jpl/labsweep/comm"
)

// ESP301Error is an entry from the ESP301's error buffer
type ESP301Error struct {
	Code int
	Msg  string
}

func (e ESP301Error) Error() string {
	return fmt.Sprintf("esp301: error %d: %s", e.Code, e.Msg)
}

// makeSerConf makes a new serial.Config with correct parity, baud, etc, set.
func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        19200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// ESP301 is a Newport ESP301 motion controller.  Axes are named "1", "2",
// "3".  Positions at this interface are in microns; the controller works in
// its own units, UnitsPerMicron converts.
type ESP301 struct {
	*comm.RemoteDevice

	// UnitsPerMicron is the controller units per micron, 1e-3 for a
	// controller configured in mm
	UnitsPerMicron float64
}

// NewESP301 makes a new ESP301 motion controller instance.  Moves wait for
// the axis to stop, so the timeout is long.
func NewESP301(addr string, serial bool) *ESP301 {
	rd := comm.NewRemoteDevice(addr, serial, makeSerConf(addr))
	rd.Rx = '\n'
	rd.Timeout = 30 * time.Second
	return &ESP301{RemoteDevice: &rd, UnitsPerMicron: 1e-3}
}

// RawCommand sends a command and returns the response without its line ending
func (esp *ESP301) RawCommand(cmd string) (string, error) {
	resp, err := esp.OpenSendRecv([]byte(cmd))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(resp), "\r"), nil
}

// command sends cmd followed by a read of the error buffer, which makes the
// controller answer once cmd has been executed
func (esp *ESP301) command(cmd string) error {
	resp, err := esp.RawCommand(cmd + ";TB?")
	if err != nil {
		return err
	}
	return parseErrorBuffer(resp)
}

// parseErrorBuffer decodes "code, timestamp, message"
func parseErrorBuffer(resp string) error {
	pieces := strings.SplitN(resp, ",", 3)
	code, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
	if err != nil {
		return fmt.Errorf("esp301: malformed error buffer %q: %w", resp, err)
	}
	if code == 0 {
		return nil
	}
	e := ESP301Error{Code: code}
	if len(pieces) == 3 {
		e.Msg = strings.TrimSpace(pieces[2])
	}
	return e
}

// GetPos gets the absolute position of an axis
func (esp *ESP301) GetPos(axis string) (float64, error) {
	resp, err := esp.RawCommand(axis + "TP?")
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, fmt.Errorf("esp301: position of axis %s: %w", axis, err)
	}
	return f / esp.UnitsPerMicron, nil
}

func (esp *ESP301) format(um float64) string {
	return strconv.FormatFloat(um*esp.UnitsPerMicron, 'f', -1, 64)
}

// MoveAbs moves an axis to an absolute position and waits for it to stop
func (esp *ESP301) MoveAbs(axis string, pos float64) error {
	return esp.command(axis + "PA" + esp.format(pos) + ";" + axis + "WS")
}

// MoveRel moves an axis a relative amount and waits for it to stop
func (esp *ESP301) MoveRel(axis string, pos float64) error {
	return esp.command(axis + "PR" + esp.format(pos) + ";" + axis + "WS")
}

// Home homes an axis.
// We use a mode 1 home forcibly, which does "Find Home and Index Signal."  This
// 'fully' homes either linear or rotary axes. Use RawCommand if you want
// to do a different kind of homing
func (esp *ESP301) Home(axis string) error {
	return esp.command(axis + "OR1;" + axis + "WS")
}
