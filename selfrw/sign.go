package selfrw

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/iboots/Auto-Backpork-GUI/common"
	"github.com/iboots/Auto-Backpork-GUI/elfrw"
)

// Sign wraps a raw ELF image in a container carrying the given authority
// metadata and a forged signature block the target loader accepts as a
// non-cryptographic pass. The image is written as a single segment
// encrypted with the current key scheme.
//
// When a fakelib set is supplied, the image's dynamic dependencies are
// resolved against it; every absent stub yields a MissingFakelib
// diagnostic. A missing stub makes the binary loadable but not runnable,
// which is a deployment concern, not a signing failure.
func Sign(elfData []byte, params SigningParameters, fakelib *FakelibSet) ([]byte, []common.Diagnostic, error) {
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}
	if !bytes.HasPrefix(elfData, elfrw.ELFMagic) {
		return nil, nil, fmt.Errorf("input is not an ELF image")
	}

	diags := checkFakelibs(elfData, fakelib)

	headerSize := baseHeaderSize + segmentEntrySize + authBlockSize
	out := make([]byte, headerSize+len(elfData))

	binary.LittleEndian.PutUint32(out[0x00:], ContainerMagic)
	binary.LittleEndian.PutUint16(out[0x04:], FormatVersion)
	binary.LittleEndian.PutUint16(out[0x06:], uint16(headerSize))
	binary.LittleEndian.PutUint64(out[0x08:], params.Paid)
	out[0x10] = params.PType
	binary.LittleEndian.PutUint32(out[0x14:], 1)
	binary.LittleEndian.PutUint64(out[0x18:], uint64(len(elfData)))
	digest := sha256.Sum256(elfData)
	copy(out[0x20:0x40], digest[:])

	// Single segment table entry.
	entry := out[baseHeaderSize:]
	binary.LittleEndian.PutUint64(entry[0:], uint64(headerSize))
	binary.LittleEndian.PutUint64(entry[8:], uint64(len(elfData)))
	binary.LittleEndian.PutUint32(entry[16:], KeySelectorV2)

	// Forged authority block: marker, paid and ptype echo, zero padding.
	auth := out[baseHeaderSize+segmentEntrySize:]
	copy(auth, authMarker)
	binary.LittleEndian.PutUint64(auth[8:], params.Paid)
	auth[16] = params.PType

	if err := cryptSegment(out[headerSize:], elfData, KeySelectorV2, params.Paid, params.PType, 0); err != nil {
		return nil, nil, err
	}
	return out, diags, nil
}

// checkFakelibs resolves the image's DT_NEEDED names against the stub
// set. Images the ELF parser rejects simply skip the check: dependency
// resolution is advisory and must not block signing.
func checkFakelibs(elfData []byte, fakelib *FakelibSet) []common.Diagnostic {
	if fakelib == nil {
		return nil
	}
	ef, err := elfrw.Open(elfData)
	if err != nil {
		return nil
	}
	needed, err := ef.NeededLibraries()
	if err != nil {
		return nil
	}

	var diags []common.Diagnostic
	for _, name := range needed {
		if !fakelib.Has(name) {
			diags = append(diags, common.Diagnostic{
				Kind:   common.DiagMissingFakelib,
				Detail: name,
			})
		}
	}
	return diags
}
