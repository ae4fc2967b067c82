package elfrw

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/iboots/Auto-Backpork-GUI/common"
)

// Downgrade rewrites every SDK version marker in the image from the
// pair's source value to its target value and returns the patched copy.
// The receiver's buffer is never mutated.
//
// A marker whose current value does not match the pair's source value is
// left untouched and reported as a VersionMismatch diagnostic: the binary
// may already be partially downgraded or built against an adjacent SDK.
// Zero markers anywhere in the image is ErrNoMarkersFound, because it
// usually means the wrong pipeline mode was chosen for this input.
func (e *ELFFile) Downgrade(pair SdkPair) ([]byte, []common.Diagnostic, error) {
	offsets := e.markerOffsets()
	if len(offsets) == 0 {
		return nil, nil, ErrNoMarkersFound
	}

	patched := make([]byte, len(e.RawData))
	copy(patched, e.RawData)

	var diags []common.Diagnostic
	for _, off := range offsets {
		current := binary.LittleEndian.Uint32(patched[off:])
		if current == pair.Target {
			// Already downgraded; nothing to report.
			continue
		}
		if current != pair.Source {
			diags = append(diags, common.Diagnostic{
				Kind: common.DiagVersionMismatch,
				Detail: fmt.Sprintf("marker at 0x%x holds 0x%08X, expected 0x%08X",
					off, current, pair.Source),
			})
			continue
		}
		binary.LittleEndian.PutUint32(patched[off:], pair.Target)
	}

	return patched, diags, nil
}

// markerOffsets returns the file offsets of every SDK version field, in
// ascending order. Program headers are consulted first; an image whose
// parameter blocks are not covered by a dedicated segment (some stripped
// system libraries) falls back to a whole-image scan for the block magics.
func (e *ELFFile) markerOffsets() []uint64 {
	seen := make(map[uint64]bool)
	var offsets []uint64
	add := func(off uint64) {
		if off+4 <= uint64(len(e.RawData)) && !seen[off] {
			seen[off] = true
			offsets = append(offsets, off)
		}
	}

	for _, seg := range e.Segments {
		var wantMagic uint32
		switch seg.Type {
		case PT_SCE_PROCPARAM:
			wantMagic = ProcParamMagic
		case PT_SCE_MODULEPARAM:
			wantMagic = ModuleParamMagic
		default:
			continue
		}
		base := seg.Offset
		if base+paramVersionOffset+4 > uint64(len(e.RawData)) {
			continue
		}
		if binary.LittleEndian.Uint32(e.RawData[base+paramMagicOffset:]) != wantMagic {
			continue
		}
		add(base + paramVersionOffset)
	}

	if len(offsets) == 0 {
		offsets = append(offsets, e.scanParamMagic(ProcParamMagic, seen)...)
		offsets = append(offsets, e.scanParamMagic(ModuleParamMagic, seen)...)
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

func (e *ELFFile) scanParamMagic(magic uint32, seen map[uint64]bool) []uint64 {
	needle := make([]byte, 4)
	binary.LittleEndian.PutUint32(needle, magic)

	var offsets []uint64
	pos := 0
	for {
		idx := bytes.Index(e.RawData[pos:], needle)
		if idx < 0 {
			break
		}
		magicOff := uint64(pos + idx)
		verOff := magicOff + (paramVersionOffset - paramMagicOffset)
		if verOff+4 <= uint64(len(e.RawData)) && !seen[verOff] {
			seen[verOff] = true
			offsets = append(offsets, verOff)
		}
		pos += idx + 4
	}
	return offsets
}
