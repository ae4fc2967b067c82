package selfrw

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/iboots/Auto-Backpork-GUI/elfrw"
)

// Decrypt unwraps a container back into the raw ELF image it carries.
// Each segment is decrypted with its own derived key and the segments
// are concatenated in table order. The input buffer is not modified and
// nothing is written to disk.
func Decrypt(container []byte) ([]byte, error) {
	hdr, err := ParseHeader(container)
	if err != nil {
		return nil, err
	}

	image := make([]byte, 0, hdr.ImageSize)
	for i, seg := range hdr.Segments {
		plain := make([]byte, seg.Size)
		enc := container[seg.Offset : seg.Offset+seg.Size]
		if err := cryptSegment(plain, enc, seg.KeySelector, hdr.Paid, hdr.PType, uint32(i)); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		image = append(image, plain...)
	}

	digest := sha256.Sum256(image)
	if digest != hdr.Digest {
		return nil, fmt.Errorf("%w: payload digest mismatch", ErrMalformedContainer)
	}
	if !bytes.HasPrefix(image, elfrw.ELFMagic) {
		return nil, fmt.Errorf("%w: decrypted payload is not an ELF image", ErrMalformedContainer)
	}
	return image, nil
}
