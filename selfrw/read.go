package selfrw

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// ParseHeader parses and validates the fixed-layout container header.
// Any structural inconsistency fails with ErrMalformedContainer; the
// payload is not touched.
func ParseHeader(data []byte) (*ContainerHeader, error) {
	if len(data) < baseHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is too short for a header", ErrMalformedContainer, len(data))
	}
	if binary.LittleEndian.Uint32(data) != ContainerMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%08X", ErrMalformedContainer, binary.LittleEndian.Uint32(data))
	}

	hdr := &ContainerHeader{
		Magic:      binary.LittleEndian.Uint32(data[0x00:]),
		Version:    binary.LittleEndian.Uint16(data[0x04:]),
		HeaderSize: binary.LittleEndian.Uint16(data[0x06:]),
		Paid:       binary.LittleEndian.Uint64(data[0x08:]),
		PType:      data[0x10],
		ImageSize:  binary.LittleEndian.Uint64(data[0x18:]),
	}
	copy(hdr.Digest[:], data[0x20:0x40])

	segmentCount := binary.LittleEndian.Uint32(data[0x14:])
	wantHeaderSize := baseHeaderSize + int(segmentCount)*segmentEntrySize + authBlockSize
	if int(hdr.HeaderSize) != wantHeaderSize || len(data) < wantHeaderSize {
		return nil, fmt.Errorf("%w: header size %d does not cover %d segment(s)",
			ErrMalformedContainer, hdr.HeaderSize, segmentCount)
	}
	if segmentCount == 0 {
		return nil, fmt.Errorf("%w: empty segment table", ErrMalformedContainer)
	}

	tableEnd := baseHeaderSize + int(segmentCount)*segmentEntrySize
	hdr.Segments = make([]SegmentEntry, segmentCount)
	for i := range hdr.Segments {
		entry := data[baseHeaderSize+i*segmentEntrySize:]
		hdr.Segments[i] = SegmentEntry{
			Offset:      binary.LittleEndian.Uint64(entry[0:]),
			Size:        binary.LittleEndian.Uint64(entry[8:]),
			KeySelector: binary.LittleEndian.Uint32(entry[16:]),
			Flags:       binary.LittleEndian.Uint32(entry[20:]),
		}
	}

	if !bytes.HasPrefix(data[tableEnd:], authMarker) {
		return nil, fmt.Errorf("%w: missing authority block", ErrMalformedContainer)
	}

	if err := validateSegmentTable(hdr, uint64(len(data))); err != nil {
		return nil, err
	}
	return hdr, nil
}

// validateSegmentTable checks every entry lies inside the container,
// past the header, and that no two entries overlap.
func validateSegmentTable(hdr *ContainerHeader, totalSize uint64) error {
	var payloadTotal uint64
	for i, seg := range hdr.Segments {
		end := seg.Offset + seg.Size
		if end < seg.Offset || end > totalSize {
			return fmt.Errorf("%w: segment %d [0x%x,0x%x) outside container of %d bytes",
				ErrMalformedContainer, i, seg.Offset, end, totalSize)
		}
		if seg.Offset < uint64(hdr.HeaderSize) {
			return fmt.Errorf("%w: segment %d overlaps the header", ErrMalformedContainer, i)
		}
		payloadTotal += seg.Size
	}

	ordered := make([]SegmentEntry, len(hdr.Segments))
	copy(ordered, hdr.Segments)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Offset < ordered[j].Offset })
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Offset+ordered[i-1].Size > ordered[i].Offset {
			return fmt.Errorf("%w: overlapping segment table entries", ErrMalformedContainer)
		}
	}

	if payloadTotal != hdr.ImageSize {
		return fmt.Errorf("%w: segment sizes total %d but image size is %d",
			ErrMalformedContainer, payloadTotal, hdr.ImageSize)
	}
	return nil
}
