package diagnosis

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strings"
)

// Fingerprint - ключ кэша: sha256 от (байты картинки, культура, доп. контекст).
// Каждое поле пишется с длиной впереди, так что ("ab","c") и ("a","bc") не совпадут.
type Fingerprint string

func NewFingerprint(payload []byte, category Category, aux string) Fingerprint {
	h := sha256.New()
	writeField(h, payload)
	writeField(h, []byte(category))
	writeField(h, []byte(strings.TrimSpace(aux)))
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}

func (f Fingerprint) String() string { return string(f) }

// Short - для логов.
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}
	return string(f)
}
