package pinfs

import "encoding/binary"

// onDiskInode is the exactly-one-sector on-disk inode layout from spec.md §3:
// length, is_dir, direct[NumDirect], indirect, double_indirect, magic, with 3 bytes
// of padding so the struct is exactly SectorSize bytes. Field order on disk matches
// field order here. All integers are little-endian (spec.md §6).
type onDiskInode struct {
	length         uint32
	isDir          bool
	direct         [NumDirect]uint32
	indirect       uint32
	doubleIndirect uint32
	magic          uint32
}

func newOnDiskInode() *onDiskInode {
	d := &onDiskInode{magic: inodeMagic}
	for i := range d.direct {
		d.direct[i] = noSector
	}
	d.indirect = noSector
	d.doubleIndirect = noSector
	return d
}

// marshal encodes d into exactly SectorSize bytes.
func (d *onDiskInode) marshal() []byte {
	buf := make([]byte, SectorSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], d.length)
	off += 4
	if d.isDir {
		buf[off] = 1
	}
	off += 1
	off += 3 // padding
	for _, s := range d.direct {
		binary.LittleEndian.PutUint32(buf[off:], s)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], d.indirect)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], d.doubleIndirect)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], d.magic)
	off += 4
	if off != SectorSize {
		panic("pinfs: onDiskInode layout does not fill exactly one sector")
	}
	return buf
}

// unmarshalOnDiskInode decodes a SectorSize-byte buffer into an onDiskInode. It
// returns ErrInvalidSuper if the magic number doesn't match (spec.md §6: magic
// 0x494e4f44).
func unmarshalOnDiskInode(buf []byte) (*onDiskInode, error) {
	if len(buf) != SectorSize {
		panic("pinfs: unmarshalOnDiskInode requires a SectorSize-length buffer")
	}
	d := &onDiskInode{}
	off := 0
	d.length = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	d.isDir = buf[off] != 0
	off += 1
	off += 3
	for i := range d.direct {
		d.direct[i] = binary.LittleEndian.Uint32(buf[off:])
		off += 4
	}
	d.indirect = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	d.doubleIndirect = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	d.magic = binary.LittleEndian.Uint32(buf[off:])
	off += 4

	if d.magic != inodeMagic {
		return nil, ErrInvalidSuper
	}
	return d, nil
}

// indirectBlock is a sector filled with PtrsPerBlock sector numbers, used for both
// the singly-indirect and each doubly-indirect-level-1 block (spec.md glossary).
type indirectBlock struct {
	ptrs [PtrsPerBlock]uint32
}

func newIndirectBlock() *indirectBlock {
	b := &indirectBlock{}
	for i := range b.ptrs {
		b.ptrs[i] = noSector
	}
	return b
}

func (b *indirectBlock) marshal() []byte {
	buf := make([]byte, SectorSize)
	for i, p := range b.ptrs {
		binary.LittleEndian.PutUint32(buf[i*4:], p)
	}
	return buf
}

func unmarshalIndirectBlock(buf []byte) *indirectBlock {
	if len(buf) != SectorSize {
		panic("pinfs: unmarshalIndirectBlock requires a SectorSize-length buffer")
	}
	b := &indirectBlock{}
	for i := range b.ptrs {
		b.ptrs[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return b
}
