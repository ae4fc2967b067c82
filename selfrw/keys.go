package selfrw

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Per-selector key-derivation labels. The material for one segment is
// SHA-256(label || paid || ptype || segment index); the first half keys
// AES-128, the second half seeds the CTR stream.
var keyLabels = map[uint32]string{
	KeySelectorLegacy: "fself-key-legacy",
	KeySelectorV2:     "fself-key-v2",
}

func deriveSegmentKey(selector uint32, paid uint64, ptype byte, index uint32) ([]byte, []byte, error) {
	label, ok := keyLabels[selector]
	if !ok {
		return nil, nil, fmt.Errorf("%w: 0x%02X", ErrUnsupportedKeyType, selector)
	}

	h := sha256.New()
	h.Write([]byte(label))
	var buf [13]byte
	binary.LittleEndian.PutUint64(buf[0:], paid)
	buf[8] = ptype
	binary.LittleEndian.PutUint32(buf[9:], index)
	h.Write(buf[:])

	material := h.Sum(nil)
	return material[:16], material[16:32], nil
}

// cryptSegment applies the CTR stream for one segment over src. CTR is
// its own inverse, so the same call encrypts and decrypts.
func cryptSegment(dst, src []byte, selector uint32, paid uint64, ptype byte, index uint32) error {
	key, iv, err := deriveSegmentKey(selector, paid, ptype, index)
	if err != nil {
		return err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}
	cipher.NewCTR(block, iv).XORKeyStream(dst, src)
	return nil
}
