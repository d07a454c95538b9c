package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mpmhost/mpmhost/internal/cli"
	"github.com/mpmhost/mpmhost/internal/hostconsole"
	"github.com/mpmhost/mpmhost/internal/log"
	"github.com/mpmhost/mpmhost/internal/machine"
)

// replyTimeout bounds how long the bridge listener waits for XIOS to
// serve a request it has enqueued before it gives up on the client.
const replyTimeout = 5 * time.Second

// diskSpec is a repeatable -disk flag value of the form
// "LETTER=path[,ro]", collected into a flag.Value slice -- the stdlib
// idiom for repeatable flags, used here instead of a third-party flag
// package because the command scaffolding's Command interface is fixed
// to *flag.FlagSet.
type diskSpec struct {
	letter   byte
	path     string
	readOnly bool
}

type diskSpecs []diskSpec

func (d *diskSpecs) String() string {
	parts := make([]string, len(*d))
	for i, s := range *d {
		parts[i] = fmt.Sprintf("%c=%s", s.letter, s.path)
	}

	return strings.Join(parts, ",")
}

func (d *diskSpecs) Set(value string) error {
	letter, rest, ok := strings.Cut(value, "=")
	if !ok || len(letter) != 1 {
		return fmt.Errorf("invalid -disk value %q, want LETTER=path[,ro]", value)
	}

	path, flags, _ := strings.Cut(rest, ",")

	*d = append(*d, diskSpec{
		letter:   letter[0],
		path:     path,
		readOnly: flags == "ro",
	})

	return nil
}

// CPUFactory constructs the CPU instance serve drives. The actual
// instruction-set emulator is an external collaborator (see the machine
// package doc comment); a real build links one in by setting this variable from
// an init function in the main package that imports that library. A nil
// factory is a configuration error this command reports cleanly rather
// than a link-time failure.
var CPUFactory func(mem machine.MemoryBus, ports machine.Ports) machine.CPU

// XIOSBase is the guest address of the XIOS jump table, set from the
// -xios flag before CPUFactory runs. A real CPUFactory consults it when
// laying out or assembling guest code; this module has no guest
// assembler of its own, so it only carries the value through.
var XIOSBase uint16 = 0xFC00

type serve struct {
	banksN   int
	disks    diskSpecs
	boot     byte
	xiosBase uint16
	addr     string
	local    bool
}

// Serve is the primary command: it boots a guest image and runs it,
// servicing the host bridge over a TCP listener and, optionally, a
// locally attached terminal session.
func Serve() cli.Command {
	return &serve{}
}

func (serve) Description() string {
	return "boot and run a guest image"
}

func (s serve) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `
serve [-banks N] [-disk LETTER=path[,ro]]... [-boot LETTER] [-xios hex] [-addr host:port] [-local]

Boot a guest disk image and run it. -disk may be repeated to mount
additional drives; -boot names a drive that must be mounted (default
A); the boot loader itself always reads drive A. -xios is the guest address of the XIOS jump table
(default 0xFC00). -addr is the host bridge's TCP listen address.
-local attaches the host terminal directly to a free console slot.`)

	return err
}

func (s *serve) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	fs.IntVar(&s.banksN, "banks", machine.MaxBanks, "number of memory banks")
	fs.Var(&s.disks, "disk", "mount a disk image: LETTER=path[,ro] (repeatable)")
	fs.Func("boot", "drive letter that must be mounted (default A); the boot loader reads drive A", func(v string) error {
		if len(v) != 1 {
			return fmt.Errorf("invalid -boot value %q", v)
		}

		s.boot = v[0]

		return nil
	})
	fs.Func("xios", "guest address of the XIOS jump table, hex (default fc00)", func(v string) error {
		base, err := strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 16)
		if err != nil {
			return fmt.Errorf("invalid -xios value %q: %w", v, err)
		}

		s.xiosBase = uint16(base)

		return nil
	})
	fs.StringVar(&s.addr, "addr", ":2222", "host bridge TCP listen address")
	fs.BoolVar(&s.local, "local", false, "attach the host terminal to a free console")

	return fs
}

func (s *serve) Run(ctx context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if s.boot == 0 {
		s.boot = 'A'
	}

	if s.xiosBase != 0 {
		XIOSBase = s.xiosBase
	}

	banks := machine.NewBanks(s.banksN, logger)
	disks := machine.NewDisks(logger)
	consoles := machine.NewConsoles(logger)
	bridge := machine.NewBridge(logger)

	for _, spec := range s.disks {
		if err := disks.Mount(spec.letter, spec.path, spec.readOnly); err != nil {
			logger.Error("mount failed", log.String("drive", string(spec.letter)), log.String("err", err.Error()))
			return 2
		}
	}

	if CPUFactory == nil {
		logger.Error("no CPU backend linked into this build")
		return 2
	}

	cpu := CPUFactory(banks, nil) // Ports attached below, once XIOS exists.

	if err := disks.Select(s.boot); err != nil {
		logger.Error("boot drive not mounted", log.String("drive", string(s.boot)), log.String("err", err.Error()))
		return 2
	}

	if err := machine.Boot(disks, banks, cpu); err != nil {
		logger.Error("boot failed", log.String("err", err.Error()))
		return 2
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	xios := machine.New(cpu, banks, banks, disks, consoles, bridge,
		machine.WithLogger(logger),
		machine.WithFatalHandler(func(err error) { cancel(err) }),
	)
	cpu.AttachPorts(xios)

	runtime := machine.NewRuntime(cpu, xios, bridge, machine.WithRuntimeLogger(logger))

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return runtime.Run(gctx)
	})

	group.Go(func() error {
		return serveBridge(gctx, bridge, s.addr, logger)
	})

	if s.local {
		slot, ok := consoles.FreeConsole()
		if !ok {
			logger.Error("no free console for -local")
			return 2
		}

		_, restore, err := hostconsole.Attach(gctx, consoles, slot)
		if err != nil {
			logger.Error("local console attach failed", log.String("err", err.Error()))
			return 2
		}

		defer restore()
	}

	err := group.Wait()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	default:
		logger.Error("serve exited", log.String("err", err.Error()))
		return 1
	}
}

// serveBridge accepts bridge protocol connections: each connection reads
// one 256-byte request, enqueues it, waits for XIOS to serve it, and
// writes back the 256-byte reply.
func serveBridge(ctx context.Context, bridge *machine.Bridge, addr string, logger *log.Logger) error {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %w", machine.ErrConfig, err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	logger.Info("bridge listening", log.String("addr", addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		go handleBridgeConn(conn, bridge, logger)
	}
}

func handleBridgeConn(conn net.Conn, bridge *machine.Bridge, logger *log.Logger) {
	defer conn.Close()

	buf := make([]byte, machine.BridgeBufferSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		logger.Warn("bridge read failed", log.String("err", err.Error()))
		return
	}

	req, err := machine.DecodeRequest(buf)
	if err != nil {
		logger.Warn("bridge decode failed", log.String("err", err.Error()))
		return
	}

	id := bridge.EnqueueRequest(req)

	reply, ok := bridge.WaitForReply(id, replyTimeout)
	if !ok {
		logger.Warn("bridge request timed out", log.String("id", fmt.Sprint(id)))
		return
	}

	out := machine.EncodeReply(reply)
	_, _ = conn.Write(out[:])
}
