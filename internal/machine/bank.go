package machine

// bank.go implements the guest's bank-switched address space: a selectable
// lower window per bank plus one common window shared by every bank. The
// design mirrors the teacher's Memory/MMIO split (a small controller
// holding latches, routing fetch/store to one of several backing regions)
// but the routing key here is the bank-select latch, not privilege.

import (
	"fmt"

	"github.com/mpmhost/mpmhost/internal/log"
)

// CommonBase is the first address of the common region, shared by every
// bank. Addresses below CommonBase are served by the currently selected
// bank.
const CommonBase uint16 = 0xC000

// AddrSpace is the size, in bytes, of the guest's logical address space.
const AddrSpace = 1 << 16

// MaxBanks is the largest number of banks this runtime supports.
const MaxBanks = 16

// Banks is the bank-switched memory behind the guest's address space.
// No locking: memory access is serialized by the single guest-execution
// thread, per the concurrency model.
type Banks struct {
	bank     [][CommonBase]byte
	common   [AddrSpace - int(CommonBase)]byte
	selected int

	log *log.Logger
}

// NewBanks allocates n banks, each covering [0, CommonBase), plus the
// shared common region. n is clamped to [1, MaxBanks].
func NewBanks(n int, logger *log.Logger) *Banks {
	if n < 1 {
		n = 1
	} else if n > MaxBanks {
		n = MaxBanks
	}

	if logger == nil {
		logger = log.DefaultLogger()
	}

	b := &Banks{
		bank: make([][CommonBase]byte, n),
		log:  logger,
	}

	return b
}

// NumBanks returns the number of configured banks.
func (b *Banks) NumBanks() int {
	return len(b.bank)
}

// Selected returns the index of the currently selected bank.
func (b *Banks) Selected() int {
	return b.selected
}

// SelectBank sets the bank-select latch. Per the design notes, an
// out-of-range bank is clamped modulo the number of configured banks
// rather than rejected -- this matches the guest's own bank-arithmetic
// convention captured in the original source. Selecting the bank that is
// already selected is observably a no-op.
func (b *Banks) SelectBank(n int) {
	n %= len(b.bank)
	if n < 0 {
		n += len(b.bank)
	}

	if n == b.selected {
		return
	}

	b.log.Debug("bank select", log.String("FROM", fmt.Sprint(b.selected)), log.String("TO", fmt.Sprint(n)))
	b.selected = n
}

// Fetch reads the byte at addr, routing to the common region when
// addr >= CommonBase, otherwise to the currently selected bank.
func (b *Banks) Fetch(addr uint16) byte {
	if addr >= uint16(CommonBase) {
		return b.common[addr-CommonBase]
	}

	return b.bank[b.selected][addr]
}

// Store writes the byte at addr, routing exactly as Fetch does.
func (b *Banks) Store(addr uint16, v byte) {
	if addr >= uint16(CommonBase) {
		b.common[addr-CommonBase] = v
		return
	}

	b.bank[b.selected][addr] = v
}

// ReadBank reads a byte from a specific bank, bypassing the select latch.
// Used for host-side initialization and bridge transfers that must target
// a bank other than the one currently selected for CPU fetch/store.
func (b *Banks) ReadBank(bank int, addr uint16) byte {
	bank = b.clamp(bank)

	if addr >= uint16(CommonBase) {
		return b.common[addr-CommonBase]
	}

	return b.bank[bank][addr]
}

// WriteBank writes a byte into a specific bank, bypassing the select
// latch.
func (b *Banks) WriteBank(bank int, addr uint16, v byte) {
	bank = b.clamp(bank)

	if addr >= uint16(CommonBase) {
		b.common[addr-CommonBase] = v
		return
	}

	b.bank[bank][addr] = v
}

// Load copies data into a bank starting at addr, bypassing the select
// latch. Bytes that land at or above CommonBase spill into the common
// region, which is the behavior the boot loader relies on to populate
// both bank 0 and the common region from one contiguous disk image.
func (b *Banks) Load(bank int, addr uint16, data []byte) {
	bank = b.clamp(bank)

	for i, v := range data {
		a := addr + uint16(i)
		if a >= uint16(CommonBase) {
			b.common[a-CommonBase] = v
		} else {
			b.bank[bank][a] = v
		}
	}
}

// CopyToAllBanks copies n bytes from bank 0 starting at addr into every
// other configured bank. Used by the XIOS system-init call to replicate
// the restart and interrupt vectors the guest set up in bank 0 so that
// interrupts taken while any user bank is selected still reach the same
// handler.
func (b *Banks) CopyToAllBanks(addr uint16, n int) {
	src := b.bank[0][addr : addr+uint16(n)]

	for i := range b.bank {
		if i == 0 {
			continue
		}

		copy(b.bank[i][addr:addr+uint16(n)], src)
	}
}

func (b *Banks) clamp(bank int) int {
	bank %= len(b.bank)
	if bank < 0 {
		bank += len(b.bank)
	}

	return bank
}
