package common

import (
	"bytes"
	"errors"
	"fmt"
)

// Byte signatures for the libc.prx timing patch. The original sequence is
// what ships on the system image; the patched sequence is what an earlier
// run of the apply step substitutes in place.
var (
	LibcOriginalPattern = []byte("4h6F1LLbTiw#A#B")
	LibcPatchedPattern  = []byte("IWIBBdTHit4#A#B")
)

// Images smaller than this cannot hold a container or ELF header, so a
// signature hit inside one means the target is truncated.
const minPatchTargetSize = 0x40

var ErrCorruptTarget = errors.New("corrupt patch target")

// PatchState classifies an image with respect to the libc patch.
type PatchState int

const (
	PatchStateOriginal PatchState = iota
	PatchStatePatched
	PatchStateNone
	PatchStateBoth
)

func (s PatchState) String() string {
	switch s {
	case PatchStateOriginal:
		return "original"
	case PatchStatePatched:
		return "patched"
	case PatchStateNone:
		return "no patterns"
	case PatchStateBoth:
		return "both patterns"
	}
	return "unknown"
}

// PatchResult reports the effect of an apply or revert call.
type PatchResult struct {
	Image   []byte
	Applied bool
	Count   int
}

// CheckLibcPatch reports which of the two signatures an image carries.
func CheckLibcPatch(image []byte) PatchState {
	hasOriginal := bytes.Contains(image, LibcOriginalPattern)
	hasPatched := bytes.Contains(image, LibcPatchedPattern)
	switch {
	case hasOriginal && hasPatched:
		return PatchStateBoth
	case hasOriginal:
		return PatchStateOriginal
	case hasPatched:
		return PatchStatePatched
	}
	return PatchStateNone
}

// ApplyLibcPatch substitutes the patched signature for the original one.
// An image without the original signature is returned unchanged with
// Applied=false; calling it on an already patched image is a no-op.
func ApplyLibcPatch(image []byte) (PatchResult, error) {
	return replacePattern(image, LibcOriginalPattern, LibcPatchedPattern)
}

// RevertLibcPatch undoes a previously applied patch, restoring the
// original bytes. Reverting an image that was never patched is a safe
// no-op (Applied=false), so the call is idempotent. Finding both
// signatures at once, or a signature inside a truncated image, fails with
// ErrCorruptTarget.
func RevertLibcPatch(image []byte) (PatchResult, error) {
	return replacePattern(image, LibcPatchedPattern, LibcOriginalPattern)
}

func replacePattern(image, from, to []byte) (PatchResult, error) {
	count := bytes.Count(image, from)
	if count == 0 {
		// Idempotent no-op; hand back the input untouched.
		return PatchResult{Image: image}, nil
	}
	if bytes.Contains(image, to) {
		return PatchResult{}, fmt.Errorf("%w: both patch signatures present", ErrCorruptTarget)
	}
	if len(image) < minPatchTargetSize {
		return PatchResult{}, fmt.Errorf("%w: signature found in truncated image (%d bytes)",
			ErrCorruptTarget, len(image))
	}

	patched := bytes.ReplaceAll(image, from, to)
	return PatchResult{Image: patched, Applied: true, Count: count}, nil
}
