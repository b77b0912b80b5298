package comm

import (
	"io"
	"sync"
	"time"
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Pool is a communication pool which holds one or more connections to a device
// that will be closed if they are not in use, and re-opened as needed.
// it is concurrent safe.  Pools must be created with NewPool.
type Pool struct {
	maxSize int                     // maximum number of connections, == cap(conns)
	timeout time.Duration           // idle time after which free connections are closed
	conns   chan io.ReadWriteCloser // free connections
	slots   chan struct{}           // one token per connection given out or being made
	maker   CreationFunc

	mu    sync.Mutex
	timer *time.Timer
}

// NewPool creates a pool holding at most maxSize connections, which are closed
// once the pool has been fully idle for timeout
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	return &Pool{
		maxSize: maxSize,
		timeout: timeout,
		conns:   make(chan io.ReadWriteCloser, maxSize),
		slots:   make(chan struct{}, maxSize),
		maker:   maker,
	}
}

// Get retrieves a communicator from the pool, blocking until one is
// available if all are in use.  It is guaranteed that there is no contention
// for the ReadWriter.
//
// When done with the communicator, return it with Put(), or discard it with
// Destroy() if it has become no good (e.g., all calls error).
//
// If the error from Get is not nil, you must not return it to the pool.
func (p *Pool) Get() (io.ReadWriter, error) {
	p.slots <- struct{}{}
	p.mu.Lock()
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	select {
	case c := <-p.conns:
		return c, nil
	default:
	}
	c, err := p.maker()
	if err != nil {
		<-p.slots
		return nil, err
	}
	return c, nil
}

// Put restores a communicator to the pool.  It may be reused, or will be
// automatically freed after all connections are returned and the timeout
// has elapsed.
func (p *Pool) Put(rw io.ReadWriter) {
	p.conns <- rw.(io.ReadWriteCloser)
	<-p.slots
	if len(p.slots) == 0 {
		p.mu.Lock()
		if p.timer == nil {
			p.timer = time.AfterFunc(p.timeout, p.reclaim)
		}
		p.mu.Unlock()
	}
}

// Destroy immediately frees a communicator from the pool.  This should be used
// instead of Put if the communicator has gone bad.
func (p *Pool) Destroy(rw io.ReadWriter) {
	rw.(io.ReadWriteCloser).Close()
	<-p.slots
}

// Size returns the number of connections in the pool, or given out from it
func (p *Pool) Size() int {
	return len(p.conns) + len(p.slots)
}

// Active returns the number of connections owned by the pool that are currently
// given out
func (p *Pool) Active() int {
	return len(p.slots)
}

// reclaim closes every free connection
func (p *Pool) reclaim() {
	p.mu.Lock()
	p.timer = nil
	p.mu.Unlock()
	for {
		select {
		case c := <-p.conns:
			c.Close()
		default:
			return
		}
	}
}
