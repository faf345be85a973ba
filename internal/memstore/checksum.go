package memstore

import "golang.org/x/crypto/sha3"

// checksumSize is the width of the SHA3-256 digest prefixed to every
// flat-file record, grounded on the teacher's DevStdCryptoProvider.SHA3_256.
const checksumSize = 32

func checksum(payload []byte) [checksumSize]byte {
	h := sha3.New256()
	_, _ = h.Write(payload)
	var out [checksumSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// withChecksum prepends a SHA3-256 digest of payload to itself, the
// on-disk framing for every record under blocks/, edges/ and versions/.
func withChecksum(payload []byte) []byte {
	sum := checksum(payload)
	out := make([]byte, 0, checksumSize+len(payload))
	out = append(out, sum[:]...)
	out = append(out, payload...)
	return out
}

// verifyChecksum splits buf into its leading digest and payload,
// returning ok=false if buf is too short or the digest doesn't match —
// the caller logs and skips the record rather than treating this as
// fatal (§7 "Parse error... for truncation, abandon the block").
func verifyChecksum(buf []byte) (payload []byte, ok bool) {
	if len(buf) < checksumSize {
		return nil, false
	}
	want := buf[:checksumSize]
	payload = buf[checksumSize:]
	got := checksum(payload)
	for i := range want {
		if want[i] != got[i] {
			return nil, false
		}
	}
	return payload, true
}
