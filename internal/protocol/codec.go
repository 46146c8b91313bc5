package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire format (big-endian):
//
//	+-------+-----------+-------------+------------------+
//	| magic | length(2) | checksum(2) | payload (length) |
//	+-------+-----------+-------------+------------------+
//
// The checksum covers the two length bytes followed by the payload.
const (
	Magic      byte = 0xA5 // also identifies framing version 1
	HeaderSize      = 5
)

// MaxEncodedSize is the size of the largest possible encoded frame.
const MaxEncodedSize = HeaderSize + MaxFrameSize

var (
	ErrEmptyFrame       = errors.New("empty frame")
	ErrInvalidSize      = errors.New("frame exceeds MTU")
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
	ErrDesync           = errors.New("frame stream out of sync")
)

// Encode serializes an Ethernet frame into a single wire frame.
func Encode(frame []byte) ([]byte, error) {
	return AppendFrame(make([]byte, 0, HeaderSize+len(frame)), frame)
}

// AppendFrame appends the wire encoding of frame to dst.
// Oversized frames are rejected, never truncated.
func AppendFrame(dst, frame []byte) ([]byte, error) {
	if err := CheckSize(frame); err != nil {
		return dst, err
	}

	var hdr [HeaderSize]byte
	hdr[0] = Magic
	binary.BigEndian.PutUint16(hdr[1:3], uint16(len(frame)))
	binary.BigEndian.PutUint16(hdr[3:5], Checksum(hdr[1:3], frame))

	dst = append(dst, hdr[:]...)
	return append(dst, frame...), nil
}

// ErrTruncated is returned by WriteFrame when w failed after part of the wire
// frame was written. The stream then holds a header promising bytes that never
// follow, and the writer should be abandoned.
var ErrTruncated = errors.New("frame truncated on the wire")

// WriteFrame encodes frame and writes it to w, retrying short writes until the
// whole wire frame has been written or w returns an error. An error after the
// first byte is wrapped in ErrTruncated.
func WriteFrame(w io.Writer, frame []byte) error {
	data, err := Encode(frame)
	if err != nil {
		return err
	}
	total := len(data)
	for len(data) > 0 {
		n, err := w.Write(data)
		data = data[n:]
		if err != nil {
			if len(data) < total {
				return fmt.Errorf("%w (%d of %d bytes): %v", ErrTruncated, total-len(data), total, err)
			}
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// DecoderStats counts stream corruption seen by a Decoder.
type DecoderStats struct {
	Frames           uint64 // frames emitted
	ChecksumMismatch uint64 // candidates dropped for a bad checksum
	Desync           uint64 // resynchronisations (garbage skipped or bad length)
	SkippedBytes     uint64 // bytes discarded while resynchronising
}

// Decoder reassembles wire frames from a byte stream that may arrive in
// arbitrary pieces. It is not safe for concurrent use.
type Decoder struct {
	buf   []byte
	stats DecoderStats
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 2*MaxEncodedSize)}
}

// Feed appends chunk to the internal buffer and calls emit for every complete,
// valid frame now available. The slice passed to emit is owned by the callee.
func (d *Decoder) Feed(chunk []byte, emit func(frame []byte)) {
	d.buf = append(d.buf, chunk...)

	for {
		i := bytes.IndexByte(d.buf, Magic)
		if i < 0 {
			if len(d.buf) > 0 {
				d.skip(len(d.buf))
				d.stats.Desync++
			}
			break
		}
		if i > 0 {
			d.skip(i)
			d.stats.Desync++
		}

		if len(d.buf) < HeaderSize {
			break
		}

		length := int(binary.BigEndian.Uint16(d.buf[1:3]))
		if length == 0 || length > MaxFrameSize {
			d.skip(1)
			d.stats.Desync++
			continue
		}
		if len(d.buf) < HeaderSize+length {
			break
		}

		payload := d.buf[HeaderSize : HeaderSize+length]
		if binary.BigEndian.Uint16(d.buf[3:5]) != Checksum(d.buf[1:3], payload) {
			// Only the magic byte is dropped: if the length was corrupted the
			// following bytes may still hold valid frames.
			d.skip(1)
			d.stats.ChecksumMismatch++
			continue
		}

		frame := make([]byte, length)
		copy(frame, payload)
		d.consume(HeaderSize + length)
		d.stats.Frames++
		emit(frame)
	}

	d.compact()
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Stats returns a copy of the decoder counters.
func (d *Decoder) Stats() DecoderStats { return d.stats }

// Reset discards any partially received frame. Counters are kept.
func (d *Decoder) Reset() { d.buf = d.buf[:0] }

func (d *Decoder) skip(n int) {
	d.stats.SkippedBytes += uint64(n)
	d.consume(n)
}

func (d *Decoder) consume(n int) { d.buf = d.buf[n:] }

// compact moves leftover bytes to the front so the backing array does not grow
// without bound across calls.
func (d *Decoder) compact() {
	if cap(d.buf)-len(d.buf) >= MaxEncodedSize {
		return
	}
	fresh := make([]byte, len(d.buf), len(d.buf)+2*MaxEncodedSize)
	copy(fresh, d.buf)
	d.buf = fresh
}

// FrameReader reads whole frames from a byte stream.
type FrameReader struct {
	r       io.Reader
	dec     *Decoder
	pending [][]byte
	chunk   []byte
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, dec: NewDecoder(), chunk: make([]byte, 4096)}
}

// ReadFrame blocks until a complete frame is decoded or the underlying reader
// fails. Corrupted frames are skipped silently; see Stats.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for len(fr.pending) == 0 {
		n, err := fr.r.Read(fr.chunk)
		if n > 0 {
			fr.dec.Feed(fr.chunk[:n], func(frame []byte) {
				fr.pending = append(fr.pending, frame)
			})
		}
		if err != nil && len(fr.pending) == 0 {
			if errors.Is(err, io.EOF) && fr.dec.Buffered() > 0 {
				return nil, fmt.Errorf("%w: %d trailing bytes", io.ErrUnexpectedEOF, fr.dec.Buffered())
			}
			return nil, err
		}
	}

	frame := fr.pending[0]
	fr.pending[0] = nil
	fr.pending = fr.pending[1:]
	return frame, nil
}

// Stats returns the counters of the underlying decoder.
func (fr *FrameReader) Stats() DecoderStats { return fr.dec.Stats() }
