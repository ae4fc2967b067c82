package elfrw

import (
	"errors"
	"fmt"
	"sort"
)

// Platform-specific program header types carrying SDK version markers.
const (
	PT_SCE_PROCPARAM   = 0x61000001
	PT_SCE_MODULEPARAM = 0x61000002

	PT_LOAD    = 0x00000001
	PT_DYNAMIC = 0x00000002

	DT_NEEDED = 1
	DT_STRTAB = 5
)

// Magic values identifying the parameter blocks inside those segments.
// Both blocks carry the magic at +0x08 and the SDK version u32 at +0x10.
const (
	ProcParamMagic   = 0x4942524F // "ORBI"
	ModuleParamMagic = 0x3C13F4BF

	paramMagicOffset   = 0x08
	paramVersionOffset = 0x10
)

var (
	ErrNoMarkersFound = errors.New("no SDK version markers found")
	ErrUnknownSdkPair = errors.New("unknown SDK version pair")
)

// SdkPair maps a newer firmware's SDK version marker to the older
// firmware's equivalent.
type SdkPair struct {
	ID     int
	Source uint32 // marker value written by the newer SDK
	Target uint32 // value the older loader accepts
}

// Pair ids are stable: the original tool numbers them 1-10 and the libc
// patch step keys off "pair <= 6".
var sdkPairs = map[int]SdkPair{
	1:  {1, 0x01000031, 0x05050001},
	2:  {2, 0x02000031, 0x06720001},
	3:  {3, 0x03000031, 0x08000001},
	4:  {4, 0x04000031, 0x09040001},
	5:  {5, 0x04500031, 0x09600001},
	6:  {6, 0x05000031, 0x10010001},
	7:  {7, 0x06000031, 0x10500001},
	8:  {8, 0x07000031, 0x11000001},
	9:  {9, 0x08000031, 0x11520001},
	10: {10, 0x09000031, 0x12000001},
}

// PairByID resolves an SDK pair id. Unknown ids are a configuration
// error, not a silent no-op.
func PairByID(id int) (SdkPair, error) {
	pair, ok := sdkPairs[id]
	if !ok {
		return SdkPair{}, fmt.Errorf("%w: %d", ErrUnknownSdkPair, id)
	}
	return pair, nil
}

// SupportedPairs returns all pairs ordered by id.
func SupportedPairs() []SdkPair {
	pairs := make([]SdkPair, 0, len(sdkPairs))
	for _, pair := range sdkPairs {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })
	return pairs
}

func (p SdkPair) String() string {
	return fmt.Sprintf("pair %d: 0x%08X -> 0x%08X", p.ID, p.Source, p.Target)
}
