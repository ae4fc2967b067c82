package elfrw

import (
	"encoding/binary"
	"fmt"

	"github.com/yalue/elf_reader"
)

// ELFMagic is the 4-byte e_ident marker every image must carry.
var ELFMagic = []byte{0x7F, 'E', 'L', 'F'}

type Segment struct {
	Offset uint64
	Size   uint64
	Vaddr  uint64
	Type   uint32
	Index  uint16
}

// ELFFile is a structured view over a raw ELF image. The raw buffer is
// authoritative; parsed structures only direct where to read and write.
type ELFFile struct {
	RawData  []byte
	ELF      elf_reader.ELFFile
	Is64Bit  bool
	Segments []Segment
}

// Open parses a raw ELF image into a structured view. The buffer is
// retained, not copied; callers hand ownership to the view.
func Open(rawData []byte) (*ELFFile, error) {
	if len(rawData) < 5 || string(rawData[:4]) != string(ELFMagic) {
		return nil, fmt.Errorf("not an ELF image")
	}

	is64Bit := rawData[4] == 2
	elfFile, err := elf_reader.ParseELFFile(rawData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}

	ef := &ELFFile{
		RawData: rawData,
		ELF:     elfFile,
		Is64Bit: is64Bit,
	}
	ef.Segments = parseSegments(ef)

	return ef, nil
}

func parseSegments(ef *ELFFile) []Segment {
	count := ef.ELF.GetSegmentCount()
	segments := make([]Segment, 0, count)
	for i := uint16(0); i < count; i++ {
		phdr, err := ef.ELF.GetProgramHeader(i)
		if err != nil {
			continue
		}
		segments = append(segments, Segment{
			Offset: phdr.GetFileOffset(),
			Size:   phdr.GetFileSize(),
			Vaddr:  phdr.GetVirtualAddress(),
			Type:   uint32(phdr.GetType()),
			Index:  i,
		})
	}
	return segments
}

// NeededLibraries collects the DT_NEEDED entries from the dynamic
// segment. An image without a dynamic segment has no dependencies.
func (e *ELFFile) NeededLibraries() ([]string, error) {
	if !e.Is64Bit {
		return nil, fmt.Errorf("dynamic table parsing requires a 64-bit image")
	}

	var dyn *Segment
	for i := range e.Segments {
		if e.Segments[i].Type == PT_DYNAMIC {
			dyn = &e.Segments[i]
			break
		}
	}
	if dyn == nil {
		return nil, nil
	}
	if dyn.Offset+dyn.Size > uint64(len(e.RawData)) {
		return nil, fmt.Errorf("dynamic segment extends beyond file")
	}

	var nameOffsets []uint64
	var strtabVaddr uint64
	data := e.RawData[dyn.Offset : dyn.Offset+dyn.Size]
	for pos := 0; pos+16 <= len(data); pos += 16 {
		tag := binary.LittleEndian.Uint64(data[pos:])
		val := binary.LittleEndian.Uint64(data[pos+8:])
		switch tag {
		case 0: // DT_NULL ends the table
			pos = len(data)
		case DT_NEEDED:
			nameOffsets = append(nameOffsets, val)
		case DT_STRTAB:
			strtabVaddr = val
		}
	}
	if len(nameOffsets) == 0 {
		return nil, nil
	}
	if strtabVaddr == 0 {
		return nil, fmt.Errorf("dynamic table has DT_NEEDED entries but no DT_STRTAB")
	}

	strtabOff, err := e.vaddrToOffset(strtabVaddr)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(nameOffsets))
	for _, nameOff := range nameOffsets {
		name, err := e.readString(strtabOff + nameOff)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func (e *ELFFile) vaddrToOffset(vaddr uint64) (uint64, error) {
	for _, seg := range e.Segments {
		if seg.Type != PT_LOAD {
			continue
		}
		if vaddr >= seg.Vaddr && vaddr < seg.Vaddr+seg.Size {
			return seg.Offset + (vaddr - seg.Vaddr), nil
		}
	}
	return 0, fmt.Errorf("virtual address 0x%x not mapped by any loadable segment", vaddr)
}

func (e *ELFFile) readString(offset uint64) (string, error) {
	if offset >= uint64(len(e.RawData)) {
		return "", fmt.Errorf("string offset 0x%x out of bounds", offset)
	}
	end := offset
	for end < uint64(len(e.RawData)) && e.RawData[end] != 0 {
		end++
	}
	if end == uint64(len(e.RawData)) {
		return "", fmt.Errorf("unterminated string at offset 0x%x", offset)
	}
	return string(e.RawData[offset:end]), nil
}
