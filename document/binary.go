package document

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/hupe1980/labelscan/bitmap"
)

// Binary layout, version 1:
//
//	magic (1 byte) | version (1 byte) | label count (uvarint)
//	label count times: label delta (uvarint) | bits (4 bytes, little endian)
//	xxhash64 of everything above (8 bytes, big endian)
//
// Labels are delta-encoded in ascending order; the first delta is the
// absolute label id, later deltas are the gap to the previous label and must
// be non-zero. All-zero bit-vectors are never encoded.
const (
	formatMagic   = 0x4C
	formatVersion = 1

	checksumSize = 8
	minEncoded   = 2 + 1 + checksumSize
)

// Decode errors. Engines treat any of them as index corruption.
var (
	ErrTruncated  = errors.New("document: truncated")
	ErrChecksum   = errors.New("document: checksum mismatch")
	ErrBadMagic   = errors.New("document: bad magic")
	ErrBadVersion = errors.New("document: unsupported version")
	ErrMalformed  = errors.New("document: malformed")
)

// MarshalBinary implements encoding.BinaryMarshaler.
func (d *Document) MarshalBinary() ([]byte, error) {
	labels := d.Labels()

	buf := make([]byte, 0, 2+binary.MaxVarintLen32+len(labels)*(binary.MaxVarintLen32+4)+checksumSize)
	buf = append(buf, formatMagic, formatVersion)
	buf = binary.AppendUvarint(buf, uint64(len(labels)))

	prev := uint32(0)
	for _, label := range labels {
		buf = binary.AppendUvarint(buf, uint64(label-prev))
		bits, _ := d.Bits(label)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(bits))
		prev = label
	}

	return binary.BigEndian.AppendUint64(buf, xxhash.Sum64(buf)), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The receiver's range
// id is kept; only the label entries are replaced.
func (d *Document) UnmarshalBinary(data []byte) error {
	if len(data) < minEncoded {
		return fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}

	payload, sum := data[:len(data)-checksumSize], data[len(data)-checksumSize:]
	if xxhash.Sum64(payload) != binary.BigEndian.Uint64(sum) {
		return ErrChecksum
	}
	if payload[0] != formatMagic {
		return fmt.Errorf("%w: 0x%02x", ErrBadMagic, payload[0])
	}
	if payload[1] != formatVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, payload[1])
	}

	rest := payload[2:]
	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return fmt.Errorf("%w: label count", ErrMalformed)
	}
	rest = rest[n:]
	// Every entry takes at least 5 bytes; an impossible count means garbage.
	if count > uint64(len(rest)/5) {
		return fmt.Errorf("%w: label count %d", ErrMalformed, count)
	}

	labels := make(map[uint32]bitmap.Bitmap, count)
	label := uint32(0)
	for i := uint64(0); i < count; i++ {
		delta, n := binary.Uvarint(rest)
		if n <= 0 || delta > math.MaxUint32 {
			return fmt.Errorf("%w: label delta", ErrMalformed)
		}
		rest = rest[n:]
		if i > 0 && delta == 0 {
			return fmt.Errorf("%w: labels not ascending", ErrMalformed)
		}
		if len(rest) < 4 {
			return fmt.Errorf("%w: bits", ErrTruncated)
		}
		bits := bitmap.Bitmap(binary.LittleEndian.Uint32(rest))
		rest = rest[4:]
		if bits.IsEmpty() {
			return fmt.Errorf("%w: empty bit-vector", ErrMalformed)
		}
		label += uint32(delta)
		labels[label] = bits
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(rest))
	}

	d.labels = labels
	return nil
}

// Decode decodes data into a fresh document for rangeID.
func Decode(rangeID uint64, data []byte) (*Document, error) {
	d := New(rangeID)
	if err := d.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return d, nil
}
