package game

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Crockford's base32 alphabet (as used by TypeID)
const handIDAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// NewHandID creates a 26-character time-sortable hand identifier: a
// UUIDv7 encoded in Crockford base32. The timestamp prefix keeps hand
// ids in creation order for log and history scans.
func NewHandID(rng *rand.Rand) string {
	var uuid [16]byte

	// UUIDv7 layout:
	// 48-bit millisecond timestamp, then version/variant bits over
	// random data.
	now := time.Now().UnixMilli()
	uuid[0] = byte(now >> 40)
	uuid[1] = byte(now >> 32)
	uuid[2] = byte(now >> 24)
	uuid[3] = byte(now >> 16)
	uuid[4] = byte(now >> 8)
	uuid[5] = byte(now)

	for i := 6; i < 16; i++ {
		uuid[i] = byte(rng.IntN(256))
	}

	// Version 7, variant 10
	uuid[6] = (uuid[6] & 0x0f) | 0x70
	uuid[8] = (uuid[8] & 0x3f) | 0x80

	return encodeHandID(uuid)
}

// encodeHandID encodes 128 bits as 26 base32 characters, 5 bits per
// character, zero-padded at the tail.
func encodeHandID(data [16]byte) string {
	result := make([]byte, 26)
	for i := 0; i < 26; i++ {
		bitOffset := i * 5
		byteIndex := bitOffset / 8
		bitIndex := bitOffset % 8

		var value uint8
		if byteIndex < 16 {
			if bitIndex <= 3 {
				value = (data[byteIndex] >> (3 - bitIndex)) & 0x1f
			} else {
				value = (data[byteIndex] << (bitIndex - 3)) & 0x1f
				if byteIndex+1 < 16 {
					value |= data[byteIndex+1] >> (11 - bitIndex)
				}
			}
		}
		result[i] = handIDAlphabet[value]
	}
	return string(result)
}

// ValidateHandID checks that an id is 26 characters of valid base32.
func ValidateHandID(id string) error {
	if len(id) != 26 {
		return fmt.Errorf("hand ID must be exactly 26 characters, got %d", len(id))
	}
	if id[0] > '7' {
		return fmt.Errorf("hand ID first character must be 0-7, got %c", id[0])
	}
	for i, char := range id {
		valid := false
		for _, validChar := range handIDAlphabet {
			if char == validChar {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid character %c at position %d", char, i)
		}
	}
	return nil
}
