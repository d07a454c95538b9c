package machine

import "testing"

func TestSkewTranslateRoundTrip(t *testing.T) {
	for l := 0; l < 26; l++ {
		inv := FormatSSSD8.translateInverse(l)
		back := FormatSSSD8.translate(inv)

		if back != l {
			t.Errorf("translate(translateInverse(%d)) = %d, want %d", l, back, l)
		}
	}
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		size int64
		want Format
	}{
		{sizeHD1K, FormatHD1K},
		{sizeHD512, FormatHD512},
		{256_256, FormatSSSD8},
		{100_000, FormatSSSD8},
		{8_500_000, FormatHD1K},
	}

	for _, c := range cases {
		if got := DetectFormat(c.size); got != c.want {
			t.Errorf("DetectFormat(%d) = %s, want %s", c.size, got, c.want)
		}
	}
}

// Scenario: disk read with skew. On an SSSD_8 image, reading logical
// sector 1 from track 2 must read the bytes stored at file offset
// (2 x 26 + 6) x 128 = 7424.
func TestDiskReadWithSkew(t *testing.T) {
	drv := &Drive{
		Format:             FormatSSSD8,
		SectorsPerTrack:    26,
		PhysicalSectorSize: 128,
		Track:              2,
		Sector:             1,
	}

	offset, _ := drv.fileOffset()
	if offset != 7424 {
		t.Errorf("fileOffset() = %d, want 7424", offset)
	}
}

// Scenario: HD1K record unpacking. With dma_addr = 0x0080, logical sector
// 3, track 2, physical sector size 512: the 128 bytes read come from file
// offset (2 x 16 + 0) x 512 + 3 x 128 = 16,384 + 384 = 16,768.
func TestHD1KRecordUnpacking(t *testing.T) {
	drv := &Drive{
		Format:             FormatHD1K,
		SectorsPerTrack:    16,
		PhysicalSectorSize: 512,
		Track:              2,
		Sector:             3,
		DMAAddr:            0x0080,
	}

	offset, byteOffset := drv.fileOffset()
	if offset != 16768 {
		t.Errorf("fileOffset() = %d, want 16768", offset)
	}

	if byteOffset != 384 {
		t.Errorf("byteOffset = %d, want 384", byteOffset)
	}
}

func TestDiskReadPastEndReturnsE5Sector(t *testing.T) {
	image := BlankImage(FormatSSSD8)
	drv := &Drive{
		Format:             FormatSSSD8,
		SectorsPerTrack:    26,
		PhysicalSectorSize: 128,
		Track:              10_000, // Far past the end of the image.
		Sector:             0,
		image:              image,
	}

	disks := NewDisks(nil)
	disks.drive[0] = drv
	disks.selected = 0

	banks := NewBanks(1, nil)

	if err := disks.Read(banks); err != nil {
		t.Fatalf("Read() = %v, want nil", err)
	}

	for a := 0; a < RecordSize; a++ {
		if got := banks.Fetch(uint16(a)); got != Deleted {
			t.Fatalf("byte %d = %#x, want 0xE5", a, got)
		}
	}
}

func TestDiskWriteOnReadOnlyDriveFails(t *testing.T) {
	drv := &Drive{
		Format:             FormatSSSD8,
		SectorsPerTrack:    26,
		PhysicalSectorSize: 128,
		ReadOnly:           true,
		image:              BlankImage(FormatSSSD8),
	}

	disks := NewDisks(nil)
	disks.drive[0] = drv
	disks.selected = 0

	err := disks.Write(NewBanks(1, nil))
	if err == nil {
		t.Fatal("Write() on read-only drive = nil, want error")
	}
}

// Scenario: blank disk image creation. Build an HD1K image in memory,
// filled with 0xE5, directory region bytes 16,384 through 16,384+32,768
// all 0xE5. Adding a 200-byte file named HELLO.TXT to user 0 produces one
// directory entry with user=0, name="HELLO   ", extension="TXT", extent
// 0, record count 2, first allocation block 8 (the first data block
// after the 8-block directory), remaining allocation bytes zero.
func TestBlankDiskImageCreation(t *testing.T) {
	image := BlankImage(FormatHD1K)

	if len(image) != sizeHD1K {
		t.Fatalf("len(image) = %d, want %d", len(image), sizeHD1K)
	}

	for i := 16384; i < 16384+32768; i++ {
		if image[i] != Deleted {
			t.Fatalf("directory byte %d = %#x, want 0xE5", i, image[i])
		}
	}

	dpb := defaultDPB(FormatHD1K)
	if got := dpb.DirBlocks(); got != 8 {
		t.Fatalf("DirBlocks() = %d, want 8", got)
	}

	name := [8]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' '}
	ext := [3]byte{'T', 'X', 'T'}

	entry, err := AddFile(image, FormatHD1K, dpb, 0, name, ext, 200)
	if err != nil {
		t.Fatalf("AddFile() = %v", err)
	}

	if entry.User != 0 {
		t.Errorf("User = %d, want 0", entry.User)
	}

	if entry.Name != name {
		t.Errorf("Name = %q, want %q", entry.Name, name)
	}

	if entry.Ext != ext {
		t.Errorf("Ext = %q, want %q", entry.Ext, ext)
	}

	if entry.Extent() != 0 {
		t.Errorf("Extent() = %d, want 0", entry.Extent())
	}

	if entry.Records != 2 {
		t.Errorf("Records = %d, want 2 (200 bytes / 128 = 2 records)", entry.Records)
	}

	if entry.Allocation[0] != 8 || entry.Allocation[1] != 0 {
		t.Errorf("Allocation[0:2] = %d,%d, want 8,0", entry.Allocation[0], entry.Allocation[1])
	}

	for i := 2; i < len(entry.Allocation); i++ {
		if entry.Allocation[i] != 0 {
			t.Errorf("Allocation[%d] = %d, want 0", i, entry.Allocation[i])
		}
	}
}

// AddFile writes a new file's entry into the first directory slot;
// ReadDirectory must see it there, not skip past it, since both use the
// same sector origin for the start of the directory region.
func TestReadDirectorySeesFileWrittenByAddFile(t *testing.T) {
	image := BlankImage(FormatHD1K)
	dpb := defaultDPB(FormatHD1K)

	name := [8]byte{'H', 'E', 'L', 'L', 'O', ' ', ' ', ' '}
	ext := [3]byte{'T', 'X', 'T'}

	if _, err := AddFile(image, FormatHD1K, dpb, 0, name, ext, 200); err != nil {
		t.Fatalf("AddFile() = %v", err)
	}

	disks := mountTestDriveA(image, FormatHD1K)
	if err := disks.Select('A'); err != nil {
		t.Fatalf("Select() = %v", err)
	}

	entries, err := disks.ReadDirectory()
	if err != nil {
		t.Fatalf("ReadDirectory() = %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}

	if entries[0].Name != name || entries[0].Ext != ext {
		t.Errorf("entries[0] = %q.%q, want %q.%q", entries[0].Name, entries[0].Ext, name, ext)
	}
}
