package machine

import "testing"

func TestDirEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := DirEntry{
		User:     1,
		Name:     [8]byte{'F', 'O', 'O', ' ', ' ', ' ', ' ', ' '},
		Ext:      [3]byte{'B', 'A', 'R'},
		ExtentLo: 3,
		Records:  42,
	}
	e.Allocation[0] = 0xAB

	buf := e.Encode()

	got, err := DecodeDirEntry(buf[:])
	if err != nil {
		t.Fatalf("DecodeDirEntry() = %v", err)
	}

	if got != e {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestDecodeDirEntryWrongSize(t *testing.T) {
	if _, err := DecodeDirEntry(make([]byte, 10)); err == nil {
		t.Fatal("DecodeDirEntry(10 bytes) = nil, want error")
	}
}

func TestValidNameRejectsOutOfRangeBytes(t *testing.T) {
	name := [8]byte{'O', 'K', ' ', ' ', ' ', ' ', ' ', ' '}
	ext := [3]byte{'T', 'X', 'T'}

	if !ValidName(name, ext) {
		t.Error("ValidName() = false for printable name, want true")
	}

	bad := [8]byte{0x01, 'K', ' ', ' ', ' ', ' ', ' ', ' '}
	if ValidName(bad, ext) {
		t.Error("ValidName() = true for control-byte name, want false")
	}
}

func TestValidNameMasksAttributeBit(t *testing.T) {
	// Top bit set (an attribute flag) on an otherwise printable byte
	// must not make the name invalid.
	name := [8]byte{'O' | 0x80, 'K', ' ', ' ', ' ', ' ', ' ', ' '}
	ext := [3]byte{'T', 'X', 'T'}

	if !ValidName(name, ext) {
		t.Error("ValidName() = false for attribute-flagged byte, want true")
	}
}

func TestLogicalFileSizeTakesMaxAcrossExtents(t *testing.T) {
	entries := []DirEntry{
		{ExtentLo: 0, Records: 128},
		{ExtentLo: 1, Records: 10},
	}

	got := LogicalFileSize(entries)
	want := int64(RecordSize) * (int64(RecordSize)*1 + 10)

	if got != want {
		t.Errorf("LogicalFileSize() = %d, want %d", got, want)
	}
}
