package fluidics

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortRules(t *testing.T) {
	p := DefaultPorts
	assert.ErrorIs(t, p.CheckPickUp(p.Waste), ErrForbiddenPort)
	assert.ErrorIs(t, p.CheckPickUp(p.Flowcell), ErrForbiddenPort)
	assert.NoError(t, p.CheckPickUp(p.Water))
	assert.NoError(t, p.CheckPickUp(3))
	assert.ErrorIs(t, p.CheckDispense(p.Water), ErrForbiddenPort)
	assert.NoError(t, p.CheckDispense(p.Waste))
	assert.Equal(t, SlowRate, p.DispenseRate(p.Flowcell))
	assert.Equal(t, FastRate, p.DispenseRate(4))
}

func TestMockEnforcesRules(t *testing.T) {
	m := NewMock(DefaultPorts, 0)
	assert.ErrorIs(t, m.PickUp(10, 200), ErrForbiddenPort)
	assert.ErrorIs(t, m.Dispense(1, 200), ErrForbiddenPort)
	require.NoError(t, m.PickUp(2, 200))
	require.NoError(t, m.Dispense(8, 40))
	ops := m.Ops()
	require.Len(t, ops, 2)
	assert.Equal(t, Op{PickUp: true, Port: 2, Volume: 200, Rate: FastRate}, ops[0])
	assert.Equal(t, Op{Port: 8, Volume: 40, Rate: SlowRate}, ops[1])
	port, ok := m.LastPort()
	assert.True(t, ok)
	assert.Equal(t, 2, port)
	assert.Equal(t, 160., m.Volume())
}

func TestMockClosed(t *testing.T) {
	m := NewMock(DefaultPorts, 0)
	m.SetOpen(false)
	assert.ErrorIs(t, m.PickUp(2, 10), ErrNotOpen)
	assert.ErrorIs(t, m.WaitUntilReady(), ErrNotOpen)
}

func TestClean(t *testing.T) {
	m := NewMock(DefaultPorts, 0)
	require.NoError(t, Clean(m, DefaultPorts, []int{2, 3}))
	ops := m.Ops()
	require.Len(t, ops, CleanCycles*2*4)
	exp := []Op{
		{PickUp: true, Port: 1, Volume: CleanVolume, Rate: FastRate},
		{Port: 2, Volume: CleanVolume, Rate: FastRate},
		{PickUp: true, Port: 2, Volume: CleanVolume, Rate: FastRate},
		{Port: 10, Volume: CleanVolume, Rate: FastRate},
	}
	assert.Equal(t, exp, ops[:4])
	assert.Equal(t, 3, ops[5].Port)
	assert.Equal(t, 0., m.Volume())
}

func TestCleanRejectsWasteAndFlowcell(t *testing.T) {
	m := NewMock(DefaultPorts, 0)
	assert.ErrorIs(t, Clean(m, DefaultPorts, []int{2, 10}), ErrForbiddenPort)
	assert.ErrorIs(t, Clean(m, DefaultPorts, []int{8}), ErrForbiddenPort)
	assert.Empty(t, m.Ops())
}

func TestConversions(t *testing.T) {
	assert.Equal(t, 2400, volumeToSteps(200))
	assert.Equal(t, 300, rateToSpeed(FastRate))
	assert.Equal(t, 20, rateToSpeed(SlowRate))
}

// fakeAMF answers the pump's ASCII protocol on a TCP socket
type fakeAMF struct {
	sync.Mutex
	cmds      []string
	homed     bool
	busyPolls int
	errCode   byte
}

func (f *fakeAMF) serve(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.handle(conn)
		}
	}()
	return ln.Addr().String()
}

func (f *fakeAMF) handle(conn net.Conn) {
	defer conn.Close()
	rdr := bufio.NewReader(conn)
	for {
		line, err := rdr.ReadString('\r')
		if err != nil {
			return
		}
		cmd := strings.TrimPrefix(strings.TrimSuffix(line, "\r"), "/1")
		f.Lock()
		f.cmds = append(f.cmds, cmd)
		status := byte('`')
		data := ""
		switch {
		case cmd == "?19000":
			if f.homed {
				data = "1"
			} else {
				data = "0"
			}
		case cmd == "ZR":
			f.homed = true
		case cmd == "Q":
			if f.busyPolls > 0 {
				f.busyPolls--
				status = '@'
			}
		default:
			status |= f.errCode
		}
		f.Unlock()
		var buf bytes.Buffer
		buf.WriteString("/0")
		buf.WriteByte(status)
		buf.WriteString(data)
		buf.WriteString("\x03\r\n")
		conn.Write(buf.Bytes())
	}
}

func (f *fakeAMF) commands() []string {
	f.Lock()
	defer f.Unlock()
	return append([]string(nil), f.cmds...)
}

func TestAMFOpenHomes(t *testing.T) {
	f := &fakeAMF{}
	a := NewAMF(f.serve(t), false, DefaultPorts)
	require.NoError(t, a.Open())
	defer a.Close()
	assert.True(t, a.IsOpen())
	assert.Equal(t, []string{"?19000", "ZR", "Q"}, f.commands())
}

func TestAMFPickUpDispense(t *testing.T) {
	f := &fakeAMF{homed: true, busyPolls: 2}
	a := NewAMF(f.serve(t), false, DefaultPorts)
	require.NoError(t, a.Open())
	defer a.Close()
	require.NoError(t, a.PickUp(3, 200))
	require.NoError(t, a.Dispense(8, 40))
	require.NoError(t, a.WaitUntilReady())
	cmds := f.commands()
	assert.Contains(t, cmds, "B3V300P2400R")
	assert.Contains(t, cmds, "B8V20D480R")
	port, ok := a.LastPort()
	assert.True(t, ok)
	assert.Equal(t, 3, port)
}

func TestAMFForbiddenMovesNeverReachTheWire(t *testing.T) {
	f := &fakeAMF{homed: true}
	a := NewAMF(f.serve(t), false, DefaultPorts)
	require.NoError(t, a.Open())
	defer a.Close()
	n := len(f.commands())
	assert.ErrorIs(t, a.PickUp(DefaultPorts.Flowcell, 10), ErrForbiddenPort)
	assert.ErrorIs(t, a.Dispense(DefaultPorts.Water, 10), ErrForbiddenPort)
	assert.Len(t, f.commands(), n)
}

func TestAMFReportsDeviceErrors(t *testing.T) {
	f := &fakeAMF{homed: true}
	a := NewAMF(f.serve(t), false, DefaultPorts)
	require.NoError(t, a.Open())
	defer a.Close()
	f.Lock()
	f.errCode = 3
	f.Unlock()
	err := a.PickUp(2, 200)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid operand")
}

func TestAMFClosed(t *testing.T) {
	a := NewAMF("127.0.0.1:1", false, DefaultPorts)
	assert.ErrorIs(t, a.PickUp(2, 10), ErrNotOpen)
	assert.ErrorIs(t, a.WaitUntilReady(), ErrNotOpen)
}

func TestHTTPPump(t *testing.T) {
	m := NewMock(DefaultPorts, 0)
	h := NewHTTPPump(m, DefaultPorts)
	r := chi.NewRouter()
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/pickup", "application/json", strings.NewReader(`{"port":2,"volume":200}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/dispense", "application/json", strings.NewReader(`{"port":1,"volume":200}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/flow", "application/json", strings.NewReader(`{"f64":40}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/last-port")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	body.ReadFrom(resp.Body)
	assert.JSONEq(t, `{"int":2}`, body.String())

	ops := m.Ops()
	require.Len(t, ops, 2)
	assert.Equal(t, Op{Port: 8, Volume: 40, Rate: SlowRate}, ops[1])
}
