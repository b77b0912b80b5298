/*
Package comm provides an embeddable type for communication with lab hardware
over RS232 or TCP, and a pool of connections for devices that do not tolerate
being connection thrashed.

Most usages of this package will boil down to:
 1. embed RemoteDevice in a type that represents your hardware.
 2. set the Tx and Rx terminators, or leave them at a carriage return
 3. write methods in terms of SendRecv

A minimal example for a syringe pump that responds to "?" with its status,
assuming the default termination values are OK

	type MyPump struct {
		comm.RemoteDevice
	}

	func (p *MyPump) Status() (string, error) {
		resp, err := p.OpenSendRecv([]byte("?"))
		if err != nil {
			return "", err
		}
		return string(resp), nil
	}
*/
package comm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

const (
	// DefaultTimeout is the connect, read and write timeout used when a
	// RemoteDevice does not specify one
	DefaultTimeout = 3 * time.Second

	terminator = byte('\r')
)

var (
	// ErrNoSerialConf is generated when Serial is true but SerialConf is nil
	ErrNoSerialConf = errors.New("comm: device is serial but has no serial config")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("comm: conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("comm: termination byte not found")
)

// SendRecver can send and recieve, and provides a method that sends then recieves
type SendRecver interface {
	Send([]byte) error
	Recv() ([]byte, error)
	SendRecv([]byte) ([]byte, error)
}

// A Communicator can Open, Send, Recv and Close
type Communicator interface {
	io.Closer
	Open() error
	SendRecver
}

/*
RemoteDevice has an address and implements Communicator

if Serial is true, SerialConf must be non-nil.

SendRecv and OpenSendRecv hold a lock for the whole exchange, so commands from
concurrent callers are never interleaved on the wire
*/
type RemoteDevice struct {
	sync.Mutex

	// Addr is the serial port ("/dev/ttyUSB0", "COM8") or host:port of the device
	Addr string

	// Serial selects RS232 over TCP
	Serial bool

	// SerialConf is used when Serial is true
	SerialConf *serial.Config

	// Timeout bounds connect, read, and write.  Zero means DefaultTimeout
	Timeout time.Duration

	// Tx and Rx are the transmit and receive terminators.  Zero means '\r'
	Tx, Rx byte

	// Conn is the live connection, nil when closed
	Conn io.ReadWriteCloser

	rdr *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice instance
func NewRemoteDevice(addr string, serial bool, conf *serial.Config) RemoteDevice {
	return RemoteDevice{Addr: addr, Serial: serial, SerialConf: conf}
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout == 0 {
		return DefaultTimeout
	}
	return rd.Timeout
}

func (rd *RemoteDevice) txTerm() byte {
	if rd.Tx == 0 {
		return terminator
	}
	return rd.Tx
}

func (rd *RemoteDevice) rxTerm() byte {
	if rd.Rx == 0 {
		return terminator
	}
	return rd.Rx
}

// Open the connection, setting the Conn variable.  Opening an open device is
// a no-op.
//
// Transient failures are retried with an exponential backoff for up to three
// seconds; a refused connection or a missing serial config fails immediately.
func (rd *RemoteDevice) Open() error {
	if rd.Conn != nil {
		return nil
	}
	op := func() error {
		err := rd.open()
		if err == nil {
			return nil
		}
		if err == ErrNoSerialConf || strings.Contains(strings.ToLower(err.Error()), "refused") {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, NewBackOff(25*time.Millisecond, time.Second, rd.timeout()))
	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			err = perm.Err
		}
		return fmt.Errorf("comm: opening %s: %w", rd.Addr, err)
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.Serial {
		if rd.SerialConf == nil {
			return ErrNoSerialConf
		}
		conf := *rd.SerialConf
		conf.Name = rd.Addr
		if conf.ReadTimeout == 0 {
			conf.ReadTimeout = rd.timeout()
		}
		conn, err = serial.OpenPort(&conf)
	} else {
		conn, err = TCPSetup(rd.Addr, rd.timeout())
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rdr = bufio.NewReader(conn)
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.rdr = nil
	return err
}

// Send writes data to the remote after appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	buf := make([]byte, len(b), len(b)+1)
	copy(buf, b)
	buf = append(buf, rd.txTerm())
	if c, ok := rd.Conn.(net.Conn); ok {
		c.SetWriteDeadline(time.Now().Add(rd.timeout()))
	}
	_, err := rd.Conn.Write(buf)
	return err
}

// Recv recieves data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if c, ok := rd.Conn.(net.Conn); ok {
		c.SetReadDeadline(time.Now().Add(rd.timeout()))
	}
	term := rd.rxTerm()
	buf, err := rd.rdr.ReadBytes(term)
	if err != nil {
		if len(buf) > 0 && err == io.EOF {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	return buf[:len(buf)-1], nil
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	rd.Lock()
	defer rd.Unlock()
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	err := rd.Send(b)
	if err != nil {
		return nil, err
	}
	return rd.Recv()
}

// OpenSendRecv is SendRecv that opens the connection first if needed.  A
// connection that fails mid-exchange is closed so that the next call reopens
// it.
func (rd *RemoteDevice) OpenSendRecv(b []byte) ([]byte, error) {
	rd.Lock()
	defer rd.Unlock()
	err := rd.Open()
	if err != nil {
		return nil, err
	}
	err = rd.Send(b)
	if err == nil {
		var resp []byte
		resp, err = rd.Recv()
		if err == nil {
			return resp, nil
		}
	}
	rd.Close()
	return nil, err
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// NewBackOff returns an exponential backoff without jitter that doubles from
// initial up to max between attempts, and gives up after total has elapsed.
// A total of zero never gives up.
func NewBackOff(initial, max, total time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         max,
		MaxElapsedTime:      total,
		Clock:               backoff.SystemClock}
	b.Reset()
	return b
}
