package chat

import (
	"encoding/binary"
	"math/big"
	"strings"
)

// RoomKey identifies a conversation by its (user-pair, job post) triple.
// UserA/UserB are stored in normalized order (UserA <= UserB) so that both
// directions of a pair map to the same room.
//
// Encode packs the three values as big-endian 32-bit integers into the low 96
// bits of a 128-bit number and renders it in base62. This is a bijection, not
// a hash: there is zero collision risk, but every input MUST fit in 32 bits.
type RoomKey struct {
	UserA int32
	UserB int32
	JobID int32
}

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var base62Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base62Alphabet); i++ {
		idx[base62Alphabet[i]] = int8(i)
	}
	return idx
}()

// NewRoomKey normalizes user order so (a, b) and (b, a) produce the same key.
func NewRoomKey(userA, userB, jobID int32) RoomKey {
	if userB < userA {
		userA, userB = userB, userA
	}
	return RoomKey{UserA: userA, UserB: userB, JobID: jobID}
}

// Encode renders the key as a compact URL-safe base62 string.
func (k RoomKey) Encode() string {
	var buf [16]byte
	binary.BigEndian.PutUint32(buf[4:8], uint32(k.UserA))
	binary.BigEndian.PutUint32(buf[8:12], uint32(k.UserB))
	binary.BigEndian.PutUint32(buf[12:16], uint32(k.JobID))

	n := new(big.Int).SetBytes(buf[:])
	if n.Sign() == 0 {
		return "0"
	}

	var sb strings.Builder
	base := big.NewInt(62)
	rem := new(big.Int)
	digits := make([]byte, 0, 22)
	for n.Sign() > 0 {
		n.QuoRem(n, base, rem)
		digits = append(digits, base62Alphabet[rem.Int64()])
	}
	for i := len(digits) - 1; i >= 0; i-- {
		sb.WriteByte(digits[i])
	}
	return sb.String()
}

// ParseRoomKey decodes a compact room id back into its normalized triple.
// Malformed input (bad characters, overflow past 96 bits, empty string)
// yields ErrMalformedRoomID; it never panics.
func ParseRoomKey(id string) (RoomKey, error) {
	if id == "" || len(id) > 22 {
		return RoomKey{}, ErrMalformedRoomID
	}

	n := new(big.Int)
	base := big.NewInt(62)
	for i := 0; i < len(id); i++ {
		d := base62Index[id[i]]
		if d < 0 {
			return RoomKey{}, ErrMalformedRoomID
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(d)))
	}

	// The packed value occupies at most 96 bits; the top 4 bytes must be zero.
	if n.BitLen() > 96 {
		return RoomKey{}, ErrMalformedRoomID
	}

	var buf [16]byte
	n.FillBytes(buf[:])

	userA := int32(binary.BigEndian.Uint32(buf[4:8]))
	userB := int32(binary.BigEndian.Uint32(buf[8:12]))
	jobID := int32(binary.BigEndian.Uint32(buf[12:16]))

	return NewRoomKey(userA, userB, jobID), nil
}
