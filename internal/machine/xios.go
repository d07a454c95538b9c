package machine

// xios.go implements the extended I/O system: the dispatcher the guest
// reaches by loading a function code into the accumulator and writing
// the dispatch port. XIOS satisfies the CPU library's Ports interface
// (see cpu.go); Out is the callback the CPU library invokes on that
// port write, and In returns the accumulator XIOS left behind.

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mpmhost/mpmhost/internal/log"
)

// Function codes, standard BIOS group: 0x00..0x30 step 3.
const (
	FnColdBoot = 0x00 + 3*iota
	FnWarmBoot
	FnConsoleStatus
	FnConsoleInput
	FnConsoleOutput
	FnList
	FnPunch
	FnReader
	FnHome
	FnSelectDisk
	FnSetTrack
	FnSetSector
	FnSetDMA
	FnRead
	FnWrite
	FnListStatus
	FnSectorTranslate
)

// Function codes, extended group: 0x33..0x48 step 3.
const (
	FnSelectMemory = 0x33 + 3*iota
	FnPollDevice
	FnStartClock
	FnStopClock
	FnExitRegion
	FnMaximumConsole
	FnSystemInit
	FnIdle
)

// Function codes, host bridge group, above 0x48.
const (
	FnBridgePoll = 0x4B + 3*iota
	FnBridgeGet
	FnBridgePut
	FnDiagHello
	FnDiagEntry
	FnDiagJmpAddr
	FnDiagEPVal
	FnDiagDebug
)

// coldBootOffset is the guest-XIOS-jump-table protocol offset: the
// guest dispatches cold-boot from a fixed point relative to its own
// commonbase table, so XIOS locates that table by subtracting this
// constant from the current program counter. It is a hard contract
// with the assembled guest and must not change without reassembling it.
const coldBootOffset = 0x60

// systemInitCopyBytes is how much of bank 0's restart-and-interrupt
// vector region system-init replicates into every other bank.
const systemInitCopyBytes = 64

// protocolVersion is the value FnDiagHello reports: a one-byte
// identifier for the bring-up diagnostic protocol, not the XIOS
// function-code set itself, which has no version.
const protocolVersion = 1

// State is the XIOS initialization state machine.
type State int

const (
	StateUninitialized State = iota
	StatePostSystemInit
	StateTicksEnabled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePostSystemInit:
		return "post-system-init"
	case StateTicksEnabled:
		return "ticks-enabled"
	default:
		return "unknown"
	}
}

// XIOS is the extended I/O system dispatcher.
type XIOS struct {
	cpu      CPU
	mem      MemoryBus
	banks    *Banks
	disks    *Disks
	consoles *Consoles
	bridge   *Bridge

	state      State
	maxConsole int
	dmaBank    int

	commonbase uint16
	entryPoint uint16

	accumulator byte
	fatal       error

	onFatal func(error)

	log *log.Logger
}

// Option configures an XIOS at construction.
type Option func(*XIOS)

// WithLogger attaches a logger.
func WithLogger(logger *log.Logger) Option {
	return func(x *XIOS) { x.log = logger }
}

// WithFatalHandler registers a callback invoked, in addition to logging,
// whenever XIOS encounters a catastrophic error (an unmapped function
// code or an invalid console index). The runtime loop uses this to
// cancel its context.
func WithFatalHandler(f func(error)) Option {
	return func(x *XIOS) { x.onFatal = f }
}

// New constructs an XIOS bound to the given banked memory, disk store,
// console registry, bridge, and CPU.
func New(cpu CPU, mem MemoryBus, banks *Banks, disks *Disks, consoles *Consoles, bridge *Bridge, opts ...Option) *XIOS {
	x := &XIOS{
		cpu:        cpu,
		mem:        mem,
		banks:      banks,
		disks:      disks,
		consoles:   consoles,
		bridge:     bridge,
		maxConsole: NumConsoles,
		log:        log.DefaultLogger(),
	}

	for _, opt := range opts {
		opt(x)
	}

	return x
}

// State reports the current initialization state.
func (x *XIOS) State() State { return x.state }

// ClockEnabled reports whether the 60 Hz tick clock is running.
func (x *XIOS) ClockEnabled() bool { return x.state == StateTicksEnabled }

// ForceEnableClock is the runtime loop's 5-million-instruction warm-up
// heuristic: force the clock on even if the guest never called
// start-clock.
func (x *XIOS) ForceEnableClock() {
	if x.state != StateTicksEnabled {
		x.state = StateTicksEnabled
	}
}

// Err returns the catastrophic error, if any, that terminated
// dispatch. Once set it is permanent: XIOS does not recover mid-run.
func (x *XIOS) Err() error { return x.fatal }

// In returns the accumulator XIOS left behind by the most recent
// dispatch, for the guest's follow-up IN on the same port it dispatched
// through.
func (x *XIOS) In(port byte) byte {
	switch port {
	case PortXIOSFunction:
		return x.accumulator
	case PortXIOSStatus:
		if x.fatal != nil {
			return 0xFF
		}

		return 0x00
	default:
		return 0x00
	}
}

// Out is the CPU library's callback for a guest port write. A write to
// PortXIOSFunction dispatches function code v; a write to
// PortBankSelect selects a memory bank directly, bypassing dispatch.
func (x *XIOS) Out(port byte, v byte) {
	if x.fatal != nil {
		return // Already terminal; ignore further calls.
	}

	switch port {
	case PortBankSelect:
		x.banks.SelectBank(int(v))
		return
	case PortXIOSFunction:
		// Falls through to dispatch below.
	default:
		return
	}

	result, err := x.dispatch(v)
	if err != nil {
		x.raise(err, v)
		return
	}

	x.accumulator = result
}

func (x *XIOS) raise(err error, code byte) {
	wrapped := errors.WithStack(fmt.Errorf("xios: function code %#x at pc %#04x: %w", code, x.cpu.PC(), err))
	x.fatal = wrapped

	x.log.Error("catastrophic xios error",
		log.String("code", fmt.Sprintf("%#x", code)),
		log.String("pc", fmt.Sprintf("%#04x", x.cpu.PC())),
		log.String("error", wrapped.Error()),
	)

	if x.onFatal != nil {
		x.onFatal(wrapped)
	}
}

var errUnmappedFunctionCode = fmt.Errorf("unmapped function code")

// dispatch runs one XIOS call and returns the accumulator value to
// leave for the guest's follow-up IN, or an error for a catastrophic
// condition.
func (x *XIOS) dispatch(code byte) (byte, error) {
	regs := x.cpu.Registers()

	switch code {
	case FnColdBoot:
		x.commonbase = x.cpu.PC() - coldBootOffset
		x.entryPoint = x.cpu.PC()
		regs.HL = x.commonbase

		return 0, nil

	case FnWarmBoot:
		return 0, nil

	case FnConsoleStatus:
		n := int(Hi(regs.DE))

		status, err := x.consoles.Status(n)
		if err != nil {
			return 0, err
		}

		return status, nil

	case FnConsoleInput:
		n := int(Hi(regs.DE))

		b, err := x.consoles.ReadChar(n)
		if err != nil {
			return 0, err
		}

		return b, nil

	case FnConsoleOutput:
		n := int(Hi(regs.DE))
		ch := Lo(regs.BC)

		if err := x.consoles.WriteChar(n, ch, nil); err != nil {
			return 0, err
		}

		return 0, nil

	case FnList, FnPunch, FnReader, FnHome, FnListStatus:
		return 0, nil // No list/punch/reader device or physical head to home.

	case FnSelectDisk:
		letter := 'A' + Lo(regs.BC)
		if err := x.disks.Select(letter); err != nil {
			return 0xFF, nil
		}

		return 0, nil

	case FnSetTrack:
		drv := x.disks.Current()
		if drv == nil {
			return 0xFF, nil
		}

		drv.Track = int(regs.HL)

		return 0, nil

	case FnSetSector:
		drv := x.disks.Current()
		if drv == nil {
			return 0xFF, nil
		}

		drv.Sector = int(regs.HL)

		return 0, nil

	case FnSetDMA:
		drv := x.disks.Current()
		if drv == nil {
			return 0xFF, nil
		}

		drv.DMAAddr = regs.HL
		drv.DMABank = x.dmaBank

		return 0, nil

	case FnRead:
		if err := x.disks.Read(x.banks); err != nil {
			return 1, nil
		}

		return 0, nil

	case FnWrite:
		if err := x.disks.Write(x.banks); err != nil {
			return 1, nil
		}

		return 0, nil

	case FnSectorTranslate:
		drv := x.disks.Current()
		if drv == nil {
			return 0xFF, nil
		}

		logical := int(regs.HL)

		return byte(drv.Format.translate(logical)), nil

	case FnSelectMemory:
		base := regs.BC
		bank := x.mem.Fetch(base + 3)

		if bank != 0 {
			x.dmaBank = int(bank)
		}

		x.banks.SelectBank(int(bank))

		return 0, nil

	case FnPollDevice:
		device := Lo(regs.BC)
		console := int(device / 2)

		if device%2 == 0 {
			c, err := x.consoles.Get(console)
			if err != nil {
				return 0, err
			}

			if len(c.out) < cap(c.out) {
				return 0xFF, nil
			}

			return 0x00, nil
		}

		status, err := x.consoles.Status(console)

		return status, err

	case FnStartClock:
		x.state = StateTicksEnabled
		return 0, nil

	case FnStopClock:
		if x.state == StateTicksEnabled {
			x.state = StatePostSystemInit
		}

		return 0, nil

	case FnExitRegion:
		return 0, nil // Critical-section accounting is the guest's own affair.

	case FnMaximumConsole:
		return byte(x.maxConsole - 1), nil

	case FnSystemInit:
		x.banks.CopyToAllBanks(0, systemInitCopyBytes)
		x.state = StateTicksEnabled // system-init both latches initialized and starts the tick clock.

		return 0, nil

	case FnIdle:
		return 0, nil

	case FnBridgePoll:
		if x.bridge.HasPendingRequest() {
			return 0xFF, nil
		}

		return 0x00, nil

	case FnBridgeGet:
		addr := regs.HL
		buf := make([]byte, BridgeBufferSize)

		if _, ok := x.bridge.GetRequest(buf); !ok {
			return 0xFF, nil
		}

		for i, b := range buf {
			x.mem.Store(addr+uint16(i), b)
		}

		return 0, nil

	case FnBridgePut:
		addr := regs.HL
		buf := make([]byte, BridgeBufferSize)

		for i := range buf {
			buf[i] = x.mem.Fetch(addr + uint16(i))
		}

		if err := x.bridge.SetReply(buf); err != nil {
			x.log.Warn("bridge reply rejected", log.String("error", err.Error()))
			return 0xFF, nil
		}

		return 0, nil

	case FnDiagHello:
		return protocolVersion, nil

	case FnDiagEntry:
		regs.HL = x.commonbase
		return 0, nil

	case FnDiagJmpAddr:
		regs.HL = x.entryPoint
		return 0, nil

	case FnDiagEPVal:
		return regs.A, nil

	case FnDiagDebug:
		return Lo(regs.BC), nil // Echoes back whatever the guest staged in C.

	default:
		return 0, fmt.Errorf("%w: %#02x", errUnmappedFunctionCode, code)
	}
}
