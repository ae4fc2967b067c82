package selfrw

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/iboots/Auto-Backpork-GUI/elfrw"
)

// Fixed layout of the container format (all fields little-endian):
//
//	0x00  u32  magic
//	0x04  u16  format version
//	0x06  u16  header size (header + segment table + auth block)
//	0x08  u64  paid
//	0x10  u8   ptype, 3 reserved bytes
//	0x14  u32  segment count
//	0x18  u64  decrypted image size
//	0x20  32B  SHA-256 digest of the plaintext image
//	0x40  segment table, one 24-byte entry per segment
//	...   0x80-byte authority block
//	...   encrypted payload segments
const (
	ContainerMagic = 0x1D3D1D3D
	FormatVersion  = 2

	baseHeaderSize   = 0x40
	segmentEntrySize = 24
	authBlockSize    = 0x80
)

// authMarker opens the forged authority block. A patched loader treats
// any block starting with it as a passing signature.
var authMarker = []byte("FAKE0001")

// Key-derivation selectors. The recognized set has grown release over
// release; selector 2 is the 6.xx-era scheme and the one new containers
// are written with.
const (
	KeySelectorLegacy = 1
	KeySelectorV2     = 2
)

// Recognized program type codes.
const (
	PTypeFake         = 1
	PTypeNPDRMExec    = 4
	PTypeNPDRMDynlib  = 5
	PTypeSystemExec   = 8
	PTypeSystemDynlib = 9
)

var (
	ErrMalformedContainer = errors.New("malformed container")
	ErrUnsupportedKeyType = errors.New("unsupported key-derivation selector")
	ErrInvalidParameters  = errors.New("invalid signing parameters")
)

var ptypeNames = map[string]byte{
	"fake":          PTypeFake,
	"npdrm_exec":    PTypeNPDRMExec,
	"npdrm_dynlib":  PTypeNPDRMDynlib,
	"system_exec":   PTypeSystemExec,
	"system_dynlib": PTypeSystemDynlib,
}

// ParsePType resolves a program type name to its code.
func ParsePType(name string) (byte, error) {
	ptype, ok := ptypeNames[name]
	if !ok {
		return 0, fmt.Errorf("%w: unknown ptype %q", ErrInvalidParameters, name)
	}
	return ptype, nil
}

// PTypeNames returns the recognized program type names, sorted.
func PTypeNames() []string {
	names := make([]string, 0, len(ptypeNames))
	for name := range ptypeNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validPType(ptype byte) bool {
	switch ptype {
	case PTypeFake, PTypeNPDRMExec, PTypeNPDRMDynlib, PTypeSystemExec, PTypeSystemDynlib:
		return true
	}
	return false
}

// SigningParameters carries the authority metadata embedded in a signed
// container. Immutable once constructed; validated before any byte is
// written.
type SigningParameters struct {
	Paid  uint64
	PType byte
	Pair  elfrw.SdkPair
}

func (p SigningParameters) Validate() error {
	if p.Paid == 0 {
		return fmt.Errorf("%w: paid must be non-zero", ErrInvalidParameters)
	}
	if !validPType(p.PType) {
		return fmt.Errorf("%w: unrecognized ptype 0x%02X", ErrInvalidParameters, p.PType)
	}
	return nil
}

// SegmentEntry is one row of the container's segment table.
type SegmentEntry struct {
	Offset      uint64 // absolute offset of the encrypted data
	Size        uint64
	KeySelector uint32
	Flags       uint32
}

// ContainerHeader is the parsed fixed-layout header.
type ContainerHeader struct {
	Magic      uint32
	Version    uint16
	HeaderSize uint16
	Paid       uint64
	PType      byte
	ImageSize  uint64
	Digest     [32]byte
	Segments   []SegmentEntry
}

// IsContainer reports whether a buffer starts with the container magic.
func IsContainer(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data) == ContainerMagic
}

// FakelibSet maps stub library names to their pre-signed bytes. The set
// is read-only; stubs are opaque inputs placed next to processed
// binaries, never generated or modified here.
type FakelibSet struct {
	stubs map[string][]byte
}

// NewFakelibSet wraps a name-to-bytes mapping. The map is retained.
func NewFakelibSet(stubs map[string][]byte) *FakelibSet {
	return &FakelibSet{stubs: stubs}
}

func (s *FakelibSet) Has(name string) bool {
	_, ok := s.stubs[name]
	return ok
}

func (s *FakelibSet) Stub(name string) []byte {
	return s.stubs[name]
}

// Names returns the stub names, sorted.
func (s *FakelibSet) Names() []string {
	names := make([]string, 0, len(s.stubs))
	for name := range s.stubs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *FakelibSet) Len() int {
	return len(s.stubs)
}
