package machine

import "testing"

func TestBanksFetchStoreRoutesToSelectedBank(t *testing.T) {
	b := NewBanks(4, nil)

	for bank := 0; bank < b.NumBanks(); bank++ {
		b.SelectBank(bank)
		b.Store(0x1234, byte(bank))

		if got := b.Fetch(0x1234); got != byte(bank) {
			t.Errorf("bank %d: fetch(0x1234) = %#x, want %#x", bank, got, bank)
		}
	}
}

func TestBanksCommonRegionObservableUnderAnyBank(t *testing.T) {
	b := NewBanks(4, nil)

	b.SelectBank(2)
	b.Store(CommonBase+10, 0xAA)

	for bank := 0; bank < b.NumBanks(); bank++ {
		b.SelectBank(bank)

		if got := b.Fetch(CommonBase + 10); got != 0xAA {
			t.Errorf("bank %d: common region = %#x, want 0xAA", bank, got)
		}
	}
}

func TestBanksSelectBankClampsOutOfRange(t *testing.T) {
	b := NewBanks(4, nil)

	b.SelectBank(5) // 5 % 4 == 1
	if b.Selected() != 1 {
		t.Errorf("select(5) with 4 banks = %d, want 1", b.Selected())
	}

	b.SelectBank(-1) // wraps to 3
	if b.Selected() != 3 {
		t.Errorf("select(-1) with 4 banks = %d, want 3", b.Selected())
	}
}

func TestBanksSelectBankIdempotent(t *testing.T) {
	b := NewBanks(4, nil)

	b.SelectBank(2)
	b.Store(0x0010, 0x42)
	b.SelectBank(2) // no-op
	b.Store(0x0011, 0x43)

	if got := b.Fetch(0x0010); got != 0x42 {
		t.Errorf("fetch(0x0010) = %#x, want 0x42", got)
	}
}

func TestBanksCopyToAllBanks(t *testing.T) {
	b := NewBanks(3, nil)

	b.WriteBank(0, 0x0000, 0xF3)
	b.WriteBank(0, 0x0001, 0xC3)
	b.CopyToAllBanks(0x0000, 2)

	for bank := 1; bank < b.NumBanks(); bank++ {
		if got := b.ReadBank(bank, 0x0000); got != 0xF3 {
			t.Errorf("bank %d: byte 0 = %#x, want 0xF3", bank, got)
		}

		if got := b.ReadBank(bank, 0x0001); got != 0xC3 {
			t.Errorf("bank %d: byte 1 = %#x, want 0xC3", bank, got)
		}
	}
}
