package machine

// disk.go implements the drive registry: per-drive geometry, the derived
// disk parameter block, the skew translation used to map the guest's
// 128-byte logical records onto the host image's physical sectors, and
// mount/unmount of the backing image file. Images are memory-mapped with
// golang.org/x/sys/unix, the same package the teacher already depends on
// for terminal ioctls, so large fixed-disk images are paged in by the
// kernel rather than copied through a Go buffer on every access.

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/mpmhost/mpmhost/internal/log"
)

// Format is the closed set of disk image formats this runtime recognizes.
type Format int

const (
	FormatSSSD8 Format = iota
	FormatHD1K
	FormatHD512
	FormatCustom
)

func (f Format) String() string {
	switch f {
	case FormatSSSD8:
		return "SSSD_8"
	case FormatHD1K:
		return "HD1K"
	case FormatHD512:
		return "HD512"
	default:
		return "CUSTOM"
	}
}

// DPB is a disk parameter block: per-drive geometry and allocation
// metadata derived from the image format.
type DPB struct {
	SPT uint16 // Sectors (128-byte records) per track.
	BSH uint8  // Block shift.
	BLM uint8  // Block mask.
	EXM uint8  // Extent mask.
	DSM uint16 // Disk size, in blocks, minus one.
	DRM uint16 // Directory entries, minus one.
	AL0 byte   // Allocation bitmap, first byte.
	AL1 byte   // Allocation bitmap, second byte.
	CKS uint16 // Checksum vector size.
	OFF uint16 // System track offset; the first directory track.
}

// WideBlocks reports whether directory entries in this DPB use 16-bit
// block numbers, which they do whenever DSM exceeds 255.
func (d DPB) WideBlocks() bool {
	return d.DSM > 255
}

// DirSectors returns the number of 128-byte logical sectors occupied by
// the directory.
func (d DPB) DirSectors() int {
	entries := int(d.DRM) + 1
	return (entries*DirEntrySize + RecordSize - 1) / RecordSize
}

// BlockSize returns the allocation block size in bytes: 128 << BSH.
func (d DPB) BlockSize() int {
	return RecordSize << d.BSH
}

// DirBlocks returns the number of allocation blocks reserved for the
// directory -- the first data block a newly created file can use.
func (d DPB) DirBlocks() int {
	dirBytes := (int(d.DRM) + 1) * DirEntrySize
	blockSize := d.BlockSize()

	return (dirBytes + blockSize - 1) / blockSize
}

// defaultDPB returns the canonical disk parameter block for a format.
func defaultDPB(f Format) DPB {
	switch f {
	case FormatSSSD8:
		return DPB{SPT: 26, BSH: 3, BLM: 7, EXM: 0, DSM: 242, DRM: 63, AL0: 0xC0, AL1: 0x00, CKS: 16, OFF: 2}
	case FormatHD1K:
		return DPB{SPT: 16 * 4, BSH: 5, BLM: 31, EXM: 1, DSM: 2035, DRM: 1023, AL0: 0xFF, AL1: 0x00, CKS: 0, OFF: 2}
	case FormatHD512:
		return DPB{SPT: 32 * 4, BSH: 4, BLM: 15, EXM: 0, DSM: 2039, DRM: 511, AL0: 0xF0, AL1: 0x00, CKS: 0, OFF: 1}
	default:
		return DPB{SPT: 26, BSH: 3, BLM: 7, EXM: 0, DSM: 242, DRM: 63, AL0: 0xC0, AL1: 0x00, CKS: 16, OFF: 2}
	}
}

// Exact image sizes, in bytes, used for format auto-detection.
const (
	sizeHD1K  = 8 * 1024 * 1024 // 8,388,608 bytes.
	sizeHD512 = 8_519_680       // 8,519,680 bytes.
)

// DetectFormat chooses a format from an image's size, per the distilled
// spec: exact 8,388,608 bytes is HD1K; exact 8,519,680 is HD512; at most
// 256,256 bytes is SSSD_8; at least 8,000,000 bytes and not an exact
// match above is HD1K; otherwise SSSD_8.
func DetectFormat(size int64) Format {
	switch {
	case size == sizeHD1K:
		return FormatHD1K
	case size == sizeHD512:
		return FormatHD512
	case size <= 256_256:
		return FormatSSSD8
	case size >= 8_000_000:
		return FormatHD1K
	default:
		return FormatSSSD8
	}
}

// skewSSSD8 is the IBM-3740 skew-6 table for 26-sector single-density
// floppies: logical sector L (0-indexed) maps to physical sector
// skewSSSD8[L]. Carried over verbatim from the source this runtime was
// distilled from; it is a bit-exact contract with the guest, not a value
// to be re-derived from the skew factor at runtime.
var skewSSSD8 = [26]int{
	0, 6, 12, 18, 24, 4, 10, 16, 22, 2, 8, 14, 20, 1,
	7, 13, 19, 25, 5, 11, 17, 23, 3, 9, 15, 21,
}

// translate maps a logical sector number to a physical sector number for
// the drive's format. Formats other than SSSD_8 use the identity mapping:
// the distilled spec only specifies a skew table for SSSD_8.
func (f Format) translate(logical int) int {
	if f == FormatSSSD8 && logical >= 0 && logical < len(skewSSSD8) {
		return skewSSSD8[logical]
	}

	return logical
}

// translateInverse computes the inverse of translate by table lookup. It
// exists so tests can assert translate(translateInverse(L)) == L for
// every L on formats with a skew table.
func (f Format) translateInverse(physical int) int {
	if f != FormatSSSD8 {
		return physical
	}

	for logical, phys := range skewSSSD8 {
		if phys == physical {
			return logical
		}
	}

	return physical
}

// Drive is one mounted disk: its host image, geometry, derived DPB, and
// the latches the guest manipulates through XIOS (current track, current
// sector, DMA address and bank).
type Drive struct {
	Letter   byte
	Path     string
	ReadOnly bool
	Format   Format
	DPB      DPB

	SectorsPerTrack    int // Physical sectors per track.
	Tracks             int
	PhysicalSectorSize int

	Track   int
	Sector  int
	DMAAddr uint16
	DMABank int

	image []byte
	file  *os.File
	log   *log.Logger
}

// recordsPerPhysical is the number of 128-byte logical records that fit
// in one physical sector.
func (d *Drive) recordsPerPhysical() int {
	return d.PhysicalSectorSize / RecordSize
}

// Disks is the registry of up to 16 mountable drive slots.
type Disks struct {
	drive    [16]*Drive
	selected int

	log *log.Logger
}

// NewDisks creates an empty drive registry.
func NewDisks(logger *log.Logger) *Disks {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	return &Disks{log: logger}
}

func driveIndex(letter byte) (int, error) {
	if letter < 'A' || letter > 'P' {
		return 0, fmt.Errorf("%w: drive letter out of range: %c", ErrMount, letter)
	}

	return int(letter - 'A'), nil
}

// Mount opens path, memory-maps it, auto-detects its format by size, and
// installs it as the drive identified by letter. Geometry for the
// detected format is fixed by this runtime; CUSTOM images must match one
// of the two known total sizes or fall back to the SSSD_8 geometry.
func (d *Disks) Mount(letter byte, path string, readOnly bool) error {
	idx, err := driveIndex(letter)
	if err != nil {
		return err
	}

	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return &MountError{Drive: letter, Path: path, Err: err}
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return &MountError{Drive: letter, Path: path, Err: err}
	}

	prot := unix.PROT_READ
	if !readOnly {
		prot |= unix.PROT_WRITE
	}

	image, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), prot, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return &MountError{Drive: letter, Path: path, Err: err}
	}

	format := DetectFormat(info.Size())
	drive := &Drive{
		Letter:   letter,
		Path:     path,
		ReadOnly: readOnly,
		Format:   format,
		DPB:      defaultDPB(format),
		image:    image,
		file:     file,
		log:      d.log,
	}

	drive.SectorsPerTrack, drive.Tracks, drive.PhysicalSectorSize = geometryFor(format)

	d.log.Info("mounted drive",
		log.String("DRIVE", string(letter)),
		log.String("PATH", path),
		log.String("FORMAT", format.String()),
	)

	d.drive[idx] = drive

	return nil
}

// Unmount releases a drive's resources. It is not an error to unmount an
// unmounted drive.
func (d *Disks) Unmount(letter byte) error {
	idx, err := driveIndex(letter)
	if err != nil {
		return err
	}

	drive := d.drive[idx]
	if drive == nil {
		return nil
	}

	_ = unix.Munmap(drive.image)
	_ = drive.file.Close()
	d.drive[idx] = nil

	return nil
}

// Select sets the selected-drive latch. It returns an error if the drive
// is not mounted.
func (d *Disks) Select(letter byte) error {
	idx, err := driveIndex(letter)
	if err != nil {
		return err
	}

	if d.drive[idx] == nil {
		return &DiskError{Drive: letter, Op: "select", Err: fmt.Errorf("no such drive")}
	}

	d.selected = idx

	return nil
}

// Current returns the drive in the selected slot, or nil if that slot
// holds no drive. Before any Select the latch is slot 0 (drive A), so a
// mounted drive A is returned even if it was never selected.
func (d *Disks) Current() *Drive {
	return d.drive[d.selected]
}

// Get returns the drive mounted at letter, or nil.
func (d *Disks) Get(letter byte) *Drive {
	idx, err := driveIndex(letter)
	if err != nil {
		return nil
	}

	return d.drive[idx]
}

// fileOffset computes the byte offset into the host image of the start
// of the logical record at the drive's current track/sector latches,
// applying the format's skew translation, per the distilled spec §4.2.
func (drv *Drive) fileOffset() (offset int64, within int) {
	translated := drv.Format.translate(drv.Sector)
	rpp := drv.recordsPerPhysical()

	physicalSector := translated / rpp
	byteOffset := (translated % rpp) * RecordSize

	base := int64(drv.Track*drv.SectorsPerTrack+physicalSector) * int64(drv.PhysicalSectorSize)

	return base + int64(byteOffset), byteOffset
}

// eofSector is returned for reads past the end of the image: a
// 128-byte record filled with the deleted-entry marker, matching the
// disk format convention and the distilled spec's failure semantics.
func eofSector() [RecordSize]byte {
	var buf [RecordSize]byte
	for i := range buf {
		buf[i] = Deleted
	}

	return buf
}

// Read copies one 128-byte logical record from the current track/sector
// of the selected drive into banks at the latched DMA address and bank.
func (d *Disks) Read(banks *Banks) error {
	drv := d.Current()
	if drv == nil {
		return &DiskError{Op: "read", Err: fmt.Errorf("no drive selected")}
	}

	offset, _ := drv.fileOffset()

	if offset < 0 || offset+RecordSize > int64(len(drv.image)) {
		rec := eofSector()
		banks.Load(drv.DMABank, drv.DMAAddr, rec[:])

		return nil
	}

	banks.Load(drv.DMABank, drv.DMAAddr, drv.image[offset:offset+RecordSize])

	return nil
}

// Write performs a read-modify-write of the enclosing physical sector
// with the same translation Read uses, copying 128 bytes from the
// latched DMA address and bank into the host image.
func (d *Disks) Write(banks *Banks) error {
	drv := d.Current()
	if drv == nil {
		return &DiskError{Op: "write", Err: fmt.Errorf("no drive selected")}
	}

	if drv.ReadOnly {
		return &DiskError{Drive: drv.Letter, Op: "write", Err: fmt.Errorf("read-only drive")}
	}

	offset, _ := drv.fileOffset()

	if offset < 0 || offset+RecordSize > int64(len(drv.image)) {
		return &DiskError{Drive: drv.Letter, Op: "write", Err: fmt.Errorf("write past end of image")}
	}

	for i := 0; i < RecordSize; i++ {
		drv.image[offset+int64(i)] = banks.ReadBank(drv.DMABank, drv.DMAAddr+uint16(i))
	}

	return nil
}

// ReadDirectory scans the directory region of the selected drive,
// returning every well-formed, non-deleted entry. Entries with invalid
// names are skipped rather than returned.
func (d *Disks) ReadDirectory() ([]DirEntry, error) {
	drv := d.Current()
	if drv == nil {
		return nil, &DiskError{Op: "directory", Err: fmt.Errorf("no drive selected")}
	}

	dirSectors := drv.DPB.DirSectors()

	var entries []DirEntry

	for sector := 0; sector < dirSectors; sector++ {
		rec, err := drv.readLogical(int(drv.DPB.OFF), sector)
		if err != nil {
			continue
		}

		for off := 0; off+DirEntrySize <= len(rec); off += DirEntrySize {
			e, err := DecodeDirEntry(rec[off : off+DirEntrySize])
			if err != nil {
				continue
			}

			if e.User == Deleted {
				continue
			}

			if !ValidName(e.Name, e.Ext) {
				continue
			}

			entries = append(entries, e)
		}
	}

	return entries, nil
}

// readLogical reads one logical 128-byte record directly from track/
// sector without touching the drive's latches or bank memory; used by
// directory scans which read many records in a tight loop.
func (drv *Drive) readLogical(track, logicalSector int) ([]byte, error) {
	translated := drv.Format.translate(logicalSector)
	rpp := drv.recordsPerPhysical()

	physicalSector := translated / rpp
	byteOffset := (translated % rpp) * RecordSize

	base := int64(track*drv.SectorsPerTrack+physicalSector) * int64(drv.PhysicalSectorSize)
	offset := base + int64(byteOffset)

	if offset < 0 || offset+RecordSize > int64(len(drv.image)) {
		rec := eofSector()
		return rec[:], nil
	}

	return drv.image[offset : offset+RecordSize], nil
}

// geometryFor returns the fixed (sectorsPerTrack, tracks,
// physicalSectorSize) geometry for a format.
func geometryFor(f Format) (sectorsPerTrack, tracks, physicalSectorSize int) {
	switch f {
	case FormatHD1K:
		return 16, 1024, 512
	case FormatHD512:
		return 32, 512, 512
	default:
		return 26, 77, 128
	}
}

// imageSize returns the canonical image size, in bytes, for a format.
func imageSize(f Format) int64 {
	switch f {
	case FormatHD1K:
		return sizeHD1K
	case FormatHD512:
		return sizeHD512
	default:
		return 256_256
	}
}

// BlankImage builds a freshly formatted image in memory: every byte,
// including the directory region, set to the deleted-entry marker.
func BlankImage(f Format) []byte {
	image := make([]byte, imageSize(f))
	for i := range image {
		image[i] = Deleted
	}

	return image
}

// AddFile writes the first directory entry for a new file of the given
// size into the blank image's directory region, at the first entry slot
// whose user byte is 0xE5. It returns the entry written.
func AddFile(image []byte, f Format, dpb DPB, user byte, name [8]byte, ext [3]byte, size int64) (DirEntry, error) {
	dirBytes := (int(dpb.DRM) + 1) * DirEntrySize

	spt, _, physSize := geometryFor(f)
	dirStart := int(dpb.OFF) * spt * physSize // first directory record is track OFF, sector 0.

	if dirStart+dirBytes > len(image) {
		return DirEntry{}, fmt.Errorf("%w: directory region exceeds image", ErrDisk)
	}

	for off := dirStart; off+DirEntrySize <= dirStart+dirBytes; off += DirEntrySize {
		if image[off] != Deleted {
			continue
		}

		e := NewFileEntry(user, name, ext, size, uint16(dpb.DirBlocks()), dpb.WideBlocks())
		buf := e.Encode()
		copy(image[off:off+DirEntrySize], buf[:])

		return e, nil
	}

	return DirEntry{}, fmt.Errorf("%w: directory full", ErrDisk)
}
