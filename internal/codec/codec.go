// Package codec implements the compact integer encoding used to persist
// postings. Small values take a single byte, larger values carry a one-byte
// length prefix followed by big-endian bytes. The byte 0xFC is reserved as a
// marker and is never produced for an integer, which lets run-length spans be
// tagged inline.
package codec

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/errors"
)

const (
	markerByte byte = 0xFC
	prefix2    byte = 0xFD
	prefix3    byte = 0xFE
	prefix4    byte = 0xFF

	// MaxValue is the largest integer EncodeInt accepts.
	MaxValue = 0xFFFFFFFF
)

// Buffer is an append-only encoding buffer that becomes a sequential reader
// once closed.
type Buffer struct {
	data   []byte
	pos    int
	closed bool
}

// NewBuffer returns an empty buffer ready for encoding.
func NewBuffer(sizeHint int) *Buffer {
	return &Buffer{data: make([]byte, 0, sizeHint)}
}

// Wrap returns a closed buffer reading from data.
func Wrap(data []byte) *Buffer {
	return &Buffer{data: data, closed: true}
}

// EncodeInt appends v using the shortest available form.
func (b *Buffer) EncodeInt(v int) error {
	if b.closed {
		return fmt.Errorf("encode after close: %w", apperrors.ErrMalformedCodecState)
	}
	if v < 0 || v > MaxValue {
		return fmt.Errorf("value %d out of range: %w", v, apperrors.ErrInvalidInput)
	}
	switch {
	case v < int(markerByte):
		b.data = append(b.data, byte(v))
	case v <= 0xFFFF:
		b.data = append(b.data, prefix2, byte(v>>8), byte(v))
	case v <= 0xFFFFFF:
		b.data = append(b.data, prefix3, byte(v>>16), byte(v>>8), byte(v))
	default:
		b.data = append(b.data, prefix4, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return nil
}

// EncodeMarker appends the reserved marker byte.
func (b *Buffer) EncodeMarker() error {
	if b.closed {
		return fmt.Errorf("encode after close: %w", apperrors.ErrMalformedCodecState)
	}
	b.data = append(b.data, markerByte)
	return nil
}

// Close freezes the buffer. Further encoding fails; decoding starts at the
// first byte.
func (b *Buffer) Close() {
	b.closed = true
	b.pos = 0
}

// Bytes returns the encoded bytes. The slice must not be modified.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of encoded bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// More reports whether unread bytes remain.
func (b *Buffer) More() bool {
	return b.closed && b.pos < len(b.data)
}

// IsMarker reports whether the next byte is the marker without consuming it.
func (b *Buffer) IsMarker() (bool, error) {
	if err := b.readable(1); err != nil {
		return false, err
	}
	return b.data[b.pos] == markerByte, nil
}

// SkipMarker consumes a marker byte.
func (b *Buffer) SkipMarker() error {
	ok, err := b.IsMarker()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("expected marker at offset %d: %w", b.pos, apperrors.ErrMalformedCodecState)
	}
	b.pos++
	return nil
}

// DecodeInt reads the next integer.
func (b *Buffer) DecodeInt() (int, error) {
	if err := b.readable(1); err != nil {
		return 0, err
	}
	head := b.data[b.pos]
	var width int
	switch head {
	case markerByte:
		return 0, fmt.Errorf("unexpected marker at offset %d: %w", b.pos, apperrors.ErrMalformedCodecState)
	case prefix2:
		width = 2
	case prefix3:
		width = 3
	case prefix4:
		width = 4
	default:
		b.pos++
		return int(head), nil
	}
	if err := b.readable(1 + width); err != nil {
		return 0, err
	}
	v := 0
	for _, c := range b.data[b.pos+1 : b.pos+1+width] {
		v = v<<8 | int(c)
	}
	b.pos += 1 + width
	return v, nil
}

func (b *Buffer) readable(n int) error {
	if !b.closed {
		return fmt.Errorf("decode before close: %w", apperrors.ErrMalformedCodecState)
	}
	if b.pos+n > len(b.data) {
		return fmt.Errorf("read %d bytes at offset %d past end %d: %w", n, b.pos, len(b.data), apperrors.ErrMalformedCodecState)
	}
	return nil
}
