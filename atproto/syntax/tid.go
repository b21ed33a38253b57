package syntax

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// Sortable base32 alphabet used for TIDs. Byte order of these characters matches their numeric value.
	Base32SortAlphabet = "234567abcdefghijklmnopqrstuvwxyz"

	tidLength      = 13
	tidClockBits   = 10
	tidClockMask   = (1 << tidClockBits) - 1
	tidMicrosMask  = (1 << 53) - 1
	tidIntegerMask = 0x7FFF_FFFF_FFFF_FFFF
)

var (
	// TID string was not exactly 13 characters
	ErrInvalidTID = errors.New("invalid TID")

	// TID string contained a character outside [Base32SortAlphabet]
	ErrInvalidCharacter = errors.New("invalid TID character")
)

// Represents a TID ("timestamp identifier") in string format: 13 characters encoding a 53-bit microsecond timestamp and a 10-bit clock identifier.
//
// TIDs are used as record keys for new records. Always use [ParseTID] instead of wrapping strings from the network directly.
//
// Syntax specification: https://atproto.com/specs/record-key
type TID string

// Checks TID length and alphabet, and returns the typed value.
func ParseTID(raw string) (TID, error) {
	if len(raw) != tidLength {
		return "", fmt.Errorf("%w: expected %d chars, got %d", ErrInvalidTID, tidLength, len(raw))
	}
	for i := 0; i < len(raw); i++ {
		if strings.IndexByte(Base32SortAlphabet, raw[i]) < 0 {
			return "", fmt.Errorf("%w: %q at position %d", ErrInvalidCharacter, raw[i], i)
		}
	}
	return TID(raw), nil
}

// Length and alphabet check only; does not inspect the encoded timestamp.
func ValidTID(raw string) bool {
	_, err := ParseTID(raw)
	return err == nil
}

// Encodes the low 63 bits of v as a TID, most significant 5-bit chunk first.
func TIDFromInteger(v uint64) TID {
	v &= tidIntegerMask
	var buf [tidLength]byte
	for i := tidLength - 1; i >= 0; i-- {
		buf[i] = Base32SortAlphabet[v&0x1F]
		v >>= 5
	}
	return TID(buf[:])
}

// Builds a TID from a UNIX timestamp in microseconds and a clock identifier. The timestamp is truncated to its low 53 bits, and the clock identifier to 10 bits.
func NewTID(unixMicros int64, clockID uint) TID {
	v := (uint64(unixMicros)&tidMicrosMask)<<tidClockBits | uint64(clockID&tidClockMask)
	return TIDFromInteger(v)
}

// Full integer representation. Returns an error for malformed strings instead of silently returning zero.
func (t TID) Integer() (uint64, error) {
	if _, err := ParseTID(string(t)); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < tidLength; i++ {
		v = v<<5 | uint64(strings.IndexByte(Base32SortAlphabet, t[i]))
	}
	return v, nil
}

// Decodes the timestamp part of the TID as a UTC [time.Time] with microsecond precision.
func (t TID) Datetime() (time.Time, error) {
	v, err := t.Integer()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(int64(v >> tidClockBits)).UTC(), nil
}

// Clock identifier (disambiguator) part of the TID.
func (t TID) ClockID() (uint, error) {
	v, err := t.Integer()
	if err != nil {
		return 0, err
	}
	return uint(v & tidClockMask), nil
}

// Parses and decodes a raw TID string to its timestamp in a single step.
func TIDDatetime(raw string) (time.Time, error) {
	return TID(raw).Datetime()
}

func (t TID) String() string {
	return string(t)
}

func (t TID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TID) UnmarshalText(text []byte) error {
	tid, err := ParseTID(string(text))
	if err != nil {
		return err
	}
	*t = tid
	return nil
}

// Generates TIDs for new record keys.
//
// The clock identifier is fixed when the generator is constructed and held for its lifetime. Generation is stateless apart from that, so there is no monotonic correction: two calls within the same microsecond return the same TID. Safe for concurrent use.
type TIDGenerator struct {
	clockID uint
	now     func() time.Time
}

// Returns a generator with an explicit clock identifier (only the low 10 bits are used).
func NewTIDGenerator(clockID uint) *TIDGenerator {
	return &TIDGenerator{
		clockID: clockID & tidClockMask,
		now:     time.Now,
	}
}

// Returns a generator with a clock identifier picked from crypto randomness. Intended to be called once at process start.
func NewRandomTIDGenerator() (*TIDGenerator, error) {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("picking TID clock identifier: %w", err)
	}
	return NewTIDGenerator(uint(binary.BigEndian.Uint16(b[:]))), nil
}

// Returns a generator which reads the current time from the provided function. Used to pin time in tests.
func NewTIDGeneratorWithClock(clockID uint, now func() time.Time) *TIDGenerator {
	g := NewTIDGenerator(clockID)
	g.now = now
	return g
}

func (g *TIDGenerator) ClockID() uint {
	return g.clockID
}

// Returns a TID for the current time.
func (g *TIDGenerator) Next() TID {
	return NewTID(g.now().UTC().UnixMicro(), g.clockID)
}
