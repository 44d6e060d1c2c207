package codec

import (
	"encoding/binary"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/errors"
)

// minRun is the shortest run worth encoding as marker, length, value. Shorter
// runs are cheaper written out.
const minRun = 4

// maxRunLength caps a single encoded run. Longer runs are split, so a
// decoder can bound the expansion of every body byte.
const maxRunLength = 1 << 16

// lengthHeaderSize is the size of the original-length prefix.
const lengthHeaderSize = 4

// EncodeRuns encodes values as [4-byte big-endian count][body] where runs of
// at least minRun equal values are collapsed into marker, run length, value.
func EncodeRuns(values []int) ([]byte, error) {
	buf := NewBuffer(lengthHeaderSize + len(values))
	buf.data = binary.BigEndian.AppendUint32(buf.data, uint32(len(values)))
	for i := 0; i < len(values); {
		j := i + 1
		for j < len(values) && values[j] == values[i] {
			j++
		}
		for run := j - i; run > 0; {
			n := min(run, maxRunLength)
			if err := encodeRun(buf, n, values[i]); err != nil {
				return nil, err
			}
			run -= n
		}
		i = j
	}
	buf.Close()
	return buf.Bytes(), nil
}

func encodeRun(buf *Buffer, n, v int) error {
	if n < minRun {
		for k := 0; k < n; k++ {
			if err := buf.EncodeInt(v); err != nil {
				return err
			}
		}
		return nil
	}
	if err := buf.EncodeMarker(); err != nil {
		return err
	}
	if err := buf.EncodeInt(n); err != nil {
		return err
	}
	return buf.EncodeInt(v)
}

// DecodeRuns reverses EncodeRuns. The decoded count must match the header.
func DecodeRuns(data []byte) ([]int, error) {
	if len(data) < lengthHeaderSize {
		return nil, fmt.Errorf("run sequence shorter than header: %w", apperrors.ErrMalformedCodecState)
	}
	want := int(binary.BigEndian.Uint32(data[:lengthHeaderSize]))
	body := data[lengthHeaderSize:]
	if want > len(body)*maxRunLength {
		return nil, fmt.Errorf("header claims %d values for a %d byte body: %w", want, len(body), apperrors.ErrMalformedCodecState)
	}
	buf := Wrap(body)
	out := make([]int, 0, min(want, len(body)))
	for buf.More() {
		marked, err := buf.IsMarker()
		if err != nil {
			return nil, err
		}
		if !marked {
			v, err := buf.DecodeInt()
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			continue
		}
		if err := buf.SkipMarker(); err != nil {
			return nil, err
		}
		run, err := buf.DecodeInt()
		if err != nil {
			return nil, fmt.Errorf("reading run length: %w", err)
		}
		v, err := buf.DecodeInt()
		if err != nil {
			return nil, fmt.Errorf("reading run value: %w", err)
		}
		if run > maxRunLength {
			return nil, fmt.Errorf("run of %d exceeds %d: %w", run, maxRunLength, apperrors.ErrMalformedCodecState)
		}
		if len(out)+run > want {
			return nil, fmt.Errorf("run of %d overflows length %d: %w", run, want, apperrors.ErrMalformedCodecState)
		}
		for k := 0; k < run; k++ {
			out = append(out, v)
		}
	}
	if len(out) != want {
		return nil, fmt.Errorf("decoded %d values, header says %d: %w", len(out), want, apperrors.ErrMalformedCodecState)
	}
	return out, nil
}
