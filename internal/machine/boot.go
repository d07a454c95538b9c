package machine

// boot.go implements the boot loader: it reads the initial image off
// drive A into guest memory and arranges for the CPU to start executing
// it, the same role the teacher's own Loader plays for LC-3 object
// files, generalized from a vectored object format to a flat disk image.

import "fmt"

// bootImageBytes is how much of drive A's raw image the boot loader
// reads: 64 KiB, enough to fill bank 0 (0x0000-0xBFFF) and the common
// region (0xC000-0xFFFF) in one pass. The boot track is read by its
// physical byte layout, not through the logical-record skew
// translation Read uses for ordinary CP/M file I/O: the boot track has
// no directory or file structure of its own, so there is nothing for a
// skew factor to preserve, and translating it would interleave the
// very first bytes the CPU executes.
const bootImageBytes = 64 * 1024

// validColdBootBytes is the closed set of first-byte opcodes a guest
// boot image may begin with: disable-interrupts or jump-absolute. Any
// other value means the image wasn't assembled as a boot track.
var validColdBootBytes = map[byte]bool{
	0xF3: true, // DI
	0xC3: true, // JMP
}

// Boot reads the first bootImageBytes of drive A's raw image into bank
// 0 and the common region, validates the image's first byte, and sets
// the CPU's PC and SP for cold start. It returns an error -- never a
// panic -- if the image fails validation, since a bad boot image is a
// configuration problem the caller should report, not a runtime crash.
func Boot(disks *Disks, banks *Banks, cpu CPU) error {
	if err := disks.Select('A'); err != nil {
		return fmt.Errorf("%w: boot: %w", ErrConfig, err)
	}

	drv := disks.Current()
	if drv == nil {
		return fmt.Errorf("%w: boot: drive A not mounted", ErrConfig)
	}

	if len(drv.image) < bootImageBytes {
		return fmt.Errorf("%w: boot: drive A image is smaller than a %d-byte boot track", ErrConfig, bootImageBytes)
	}

	banks.Load(0, 0, drv.image[:bootImageBytes])

	first := banks.ReadBank(0, 0)
	if !validColdBootBytes[first] {
		return fmt.Errorf("%w: boot: drive A byte 0 is %#02x, not a recognized boot opcode", ErrConfig, first)
	}

	cpu.SetPC(0)
	cpu.SetSP(0xFFFF)

	return nil
}
