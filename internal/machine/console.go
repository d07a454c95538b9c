package machine

// console.go implements the fixed-size console registry: up to 8 guest
// terminal slots, each with bounded, single-producer/single-consumer
// input and output queues. Queue access from the guest thread is
// lock-free by construction -- buffered channels -- mirroring the
// teacher's preference for channel-based SPSC device queues over shared
// mutable state plus a mutex.

import (
	"fmt"
	"time"

	"github.com/mpmhost/mpmhost/internal/log"
)

// NumConsoles is the number of console slots the registry holds.
const NumConsoles = 8

// Input and output queue capacities, per the distilled spec.
const (
	ConsoleInputCapacity  = 256
	ConsoleOutputCapacity = 1024
)

// readTimeout bounds how long read_char waits for input before returning
// 0x00, per the distilled spec ("on the order of 10 ms").
const readTimeout = 10 * time.Millisecond

// Console is one guest terminal slot.
type Console struct {
	Connected bool
	LocalEcho bool
	Width     int
	Height    int
	TermType  string

	in  chan byte
	out chan byte
}

func newConsole() *Console {
	return &Console{
		in:  make(chan byte, ConsoleInputCapacity),
		out: make(chan byte, ConsoleOutputCapacity),
	}
}

// Consoles is the fixed array of console slots indexed 0..7.
type Consoles struct {
	slot [NumConsoles]*Console

	log *log.Logger
}

// NewConsoles creates a fully populated console registry; every slot
// exists from startup, whether or not a terminal session is attached.
func NewConsoles(logger *log.Logger) *Consoles {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	c := &Consoles{log: logger}

	for i := range c.slot {
		c.slot[i] = newConsole()
	}

	return c
}

// Get returns the console at index n, or an error for an out-of-range
// index. Invalid console indices passed by the guest are a catastrophic,
// not a recoverable, error per the distilled spec's §4.5 and §7.
func (c *Consoles) Get(n int) (*Console, error) {
	if n < 0 || n >= NumConsoles {
		return nil, fmt.Errorf("invalid console index: %d", n)
	}

	return c.slot[n], nil
}

// Status returns 0xFF iff the named console's input queue is non-empty,
// 0x00 otherwise.
func (c *Consoles) Status(n int) (byte, error) {
	console, err := c.Get(n)
	if err != nil {
		return 0, err
	}

	if len(console.in) > 0 {
		return 0xFF, nil
	}

	return 0x00, nil
}

// ReadChar waits up to readTimeout for input on the named console,
// returning the byte read or 0x00 on timeout. Callers are expected to
// poll Status first.
func (c *Consoles) ReadChar(n int) (byte, error) {
	console, err := c.Get(n)
	if err != nil {
		return 0, err
	}

	select {
	case b := <-console.in:
		return b, nil
	case <-time.After(readTimeout):
		return 0x00, nil
	}
}

// WriteChar unconditionally enqueues a byte into the named console's
// output queue. If the queue is full, the oldest byte is dropped to make
// room -- the distilled spec allows either dropping the oldest byte or
// rejecting the write, and this runtime picks the former so that a slow
// or absent terminal session never blocks the guest thread. In
// local-echo mode, while the console isn't connected, the byte is also
// written to w.
func (c *Consoles) WriteChar(n int, b byte, w func(byte)) error {
	console, err := c.Get(n)
	if err != nil {
		return err
	}

	select {
	case console.out <- b:
	default:
		<-console.out // Drop the oldest byte to make room.
		console.out <- b
	}

	if console.LocalEcho && !console.Connected && w != nil {
		w(b)
	}

	return nil
}

// Reset marks a console disconnected without clearing its queues, so
// pending I/O survives a reconnection.
func (c *Consoles) Reset(n int) error {
	console, err := c.Get(n)
	if err != nil {
		return err
	}

	console.Connected = false

	return nil
}

// FreeConsole finds an unconnected console, scanning downward from the
// highest index. By convention the guest's terminal-management process
// runs on the highest-numbered console, so the first incoming connection
// should land on it.
func (c *Consoles) FreeConsole() (int, bool) {
	for i := NumConsoles - 1; i >= 0; i-- {
		if !c.slot[i].Connected {
			return i, true
		}
	}

	return 0, false
}

// Push delivers one byte of host-side input into a console's input
// queue; it is the producer half of the SPSC channel, called from a
// terminal-session goroutine. It never blocks: a full input queue drops
// the incoming byte, bounding memory growth from a misbehaving peer.
func (c *Consoles) Push(n int, b byte) error {
	console, err := c.Get(n)
	if err != nil {
		return err
	}

	select {
	case console.in <- b:
	default:
	}

	return nil
}

// Drain removes and returns one byte from a console's output queue, or
// false if the queue is empty. It is the consumer half of the SPSC
// channel, called from a terminal-session goroutine.
func (c *Consoles) Drain(n int) (byte, bool, error) {
	console, err := c.Get(n)
	if err != nil {
		return 0, false, err
	}

	select {
	case b := <-console.out:
		return b, true, nil
	default:
		return 0, false, nil
	}
}

// Connect marks a console connected and records its reported terminal
// geometry and type.
func (c *Consoles) Connect(n int, width, height int, termType string) error {
	console, err := c.Get(n)
	if err != nil {
		return err
	}

	console.Connected = true
	console.Width = width
	console.Height = height
	console.TermType = termType

	return nil
}
