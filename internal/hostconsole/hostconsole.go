// Package hostconsole adapts Unix terminal I/O to a guest console slot,
// for the -local flag that lets an operator drive a session directly on
// the machine running the emulator rather than over the network.
package hostconsole

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/mpmhost/mpmhost/internal/machine"
)

// ErrNoTTY is returned if standard input is not a terminal. In this
// case, a local session is not available.
var ErrNoTTY = errors.New("hostconsole: not a TTY")

// Session adapts the host terminal to one guest console slot: bytes
// typed at the terminal are pushed into the console's input queue;
// bytes the guest writes to the console's output queue are written to
// the terminal. Framing, echo, and line discipline are whatever the
// guest's own BIOS negotiates; this session only moves bytes.
type Session struct {
	in    *os.File
	out   *term.Terminal
	fd    int
	state *term.State

	slot int
}

// Attach creates a Session bound to the given console slot using the
// standard streams, puts the terminal into raw mode, and starts the
// goroutines that pump bytes between the terminal and the console until
// ctx is canceled. Callers must call the returned restore function to
// return the terminal to its original state.
func Attach(ctx context.Context, consoles *machine.Consoles, slot int) (*Session, func(), error) {
	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		return nil, func() {}, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, func() {}, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	s := &Session{
		fd:    fd,
		in:    os.Stdin,
		out:   term.NewTerminal(os.Stdin, ""),
		state: saved,
		slot:  slot,
	}

	if err := s.setTerminalParams(1, 0); err != nil {
		_ = term.Restore(fd, saved)
		return nil, func() {}, err
	}

	if err := consoles.Connect(slot, 80, 24, "vt100"); err != nil {
		_ = term.Restore(fd, saved)
		return nil, func() {}, err
	}

	ctx, cancel := context.WithCancel(ctx)

	go s.readInput(ctx, consoles)
	go s.writeOutput(ctx, consoles)

	restore := func() {
		cancel()
		_ = os.Stdin.SetReadDeadline(time.Now())
		_ = term.Restore(s.fd, s.state)
		_ = consoles.Reset(slot)
	}

	return s, restore, nil
}

func (s *Session) setTerminalParams(vmin, vtime byte) error {
	_ = syscall.SetNonblock(s.fd, true)

	termIO, err := unix.IoctlGetTermios(s.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	if err := unix.IoctlSetTermios(s.fd, setTermiosIoctl, termIO); err != nil {
		return err
	}

	_ = os.Stdin.SetReadDeadline(time.Time{})

	return nil
}

// readInput reads bytes from the terminal and pushes them into the
// console's input queue until ctx is canceled.
func (s *Session) readInput(ctx context.Context, consoles *machine.Consoles) {
	buf := bufio.NewReader(s.in)

	_ = syscall.SetNonblock(s.fd, false)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := buf.ReadByte()
		if err != nil {
			return
		}

		_ = consoles.Push(s.slot, b)
	}
}

// writeOutput drains the console's output queue and writes each byte to
// the terminal until ctx is canceled. It polls at a short interval
// rather than blocking, since Consoles.Drain is non-blocking by design
// (the guest thread must never wait on a host session).
func (s *Session) writeOutput(ctx context.Context, consoles *machine.Consoles) {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				b, ok, err := consoles.Drain(s.slot)
				if err != nil || !ok {
					break
				}

				if _, err := fmt.Fprintf(s.out, "%c", b); err != nil {
					return
				}
			}
		}
	}
}
