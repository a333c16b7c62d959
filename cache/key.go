package cache

import "encoding/binary"

// 64-bit Fx hash. The same function the original keying scheme uses: fast,
// stable across processes, not cryptographic (keys never leave the gateway).
const fxSeed uint64 = 0x51_7c_c1_b7_27_22_0a_95

func fxAdd(hash, word uint64) uint64 {
	hash = (hash << 5) | (hash >> 59) // rotate left 5
	hash ^= word
	return hash * fxSeed
}

func fxBytes(hash uint64, data []byte) uint64 {
	for len(data) >= 8 {
		hash = fxAdd(hash, binary.LittleEndian.Uint64(data))
		data = data[8:]
	}
	if len(data) > 0 {
		var tail [8]byte
		copy(tail[:], data)
		hash = fxAdd(hash, binary.LittleEndian.Uint64(tail[:]))
	}
	return hash
}

// Key fingerprints one cacheable request variant. The optional seed
// namespaces tenants; the bucket index spreads one logical key over N
// slots.
func Key(seed, pathAndQuery string, body []byte, bucket int) uint64 {
	var h uint64
	if seed != "" {
		h = fxBytes(h, []byte(seed))
	}
	h = fxBytes(h, []byte(pathAndQuery))
	h = fxBytes(h, body)
	h = fxAdd(h, uint64(bucket))
	return h
}
