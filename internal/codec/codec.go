// Package codec implements the pure, stateless binary record framing used by
// the L2 log store: a (keyLen, valueLen, keyBytes, valueBytes) record with
// two big-endian 32-bit length prefixes. A zero-length value denotes a
// tombstone.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// HeaderLen is the byte length of the two length prefixes.
	HeaderLen = 8

	MinKeyLen   = 1
	MaxKeyLen   = 1_000_000
	MaxValueLen = 10_000_000
)

// ErrTooBig is returned by Encode when the framed record would be at least
// as large as the caller-supplied limit.
var ErrTooBig = errors.New("tlvcache/codec: record too big")

// ErrCorrupt is returned by DecodeHeader when a length prefix falls outside
// its accepted range.
var ErrCorrupt = errors.New("tlvcache/codec: corrupt record header")

// Encode frames key and value into scratch (reused if it has enough
// capacity) as HeaderLen+len(key)+len(value) bytes. A nil value encodes a
// tombstone. It returns ErrTooBig if the framed record would be >= limit
// (a limit <= 0 disables the check).
func Encode(key string, value []byte, scratch []byte, limit int) ([]byte, error) {
	total := HeaderLen + len(key) + len(value)
	if limit > 0 && total >= limit {
		return nil, fmt.Errorf("%w: record of %d bytes exceeds limit of %d", ErrTooBig, total, limit)
	}

	buf := scratch
	if cap(buf) < total {
		buf = make([]byte, total)
	} else {
		buf = buf[:total]
	}

	binary.BigEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(value)))
	copy(buf[HeaderLen:HeaderLen+len(key)], key)
	copy(buf[HeaderLen+len(key):], value)
	return buf, nil
}

// DecodeHeader reads and validates the two length prefixes from r.
func DecodeHeader(r io.Reader) (keyLen, valueLen uint32, err error) {
	var hdr [HeaderLen]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, err
	}
	keyLen = binary.BigEndian.Uint32(hdr[0:4])
	valueLen = binary.BigEndian.Uint32(hdr[4:8])
	if keyLen < MinKeyLen || keyLen > MaxKeyLen {
		return 0, 0, fmt.Errorf("%w: key length %d out of range [%d,%d]", ErrCorrupt, keyLen, MinKeyLen, MaxKeyLen)
	}
	if valueLen > MaxValueLen {
		return 0, 0, fmt.Errorf("%w: value length %d exceeds %d", ErrCorrupt, valueLen, MaxValueLen)
	}
	return keyLen, valueLen, nil
}

// DecodeKey interprets raw bytes as a key string.
func DecodeKey(b []byte) string { return string(b) }

// DecodeValue returns the opaque value bytes unchanged; the host is
// responsible for deserializing them into a domain object.
func DecodeValue(b []byte) []byte { return b }

// IsTombstone reports whether a decoded valueLen denotes a removal record.
func IsTombstone(valueLen uint32) bool { return valueLen == 0 }
