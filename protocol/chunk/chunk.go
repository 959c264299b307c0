// Package chunk implements UDP chunked-reply framing: a reply payload is
// split into fixed-size chunks, each prefixed by a 4-byte big-endian byte
// offset into the full payload, and emitted in descending-offset order so
// the last datagram (offset 0) doubles as the end-of-data marker.
package chunk

import (
	"bytes"
	"sort"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/sukhanov/goliteserver/support/bufferpool"
)

const (
	// DefaultSize is the default maximum chunk payload size.
	DefaultSize = 60000

	// PrefixLength is the size, in bytes, of the offset prefix on every
	// emitted datagram.
	PrefixLength = 4

	// DefaultMaxRetransmitAttempts bounds how many times a receiver will ask
	// for a missing chunk before giving up on a reply.
	DefaultMaxRetransmitAttempts = 5

	// DefaultMaxBeaconEchoes bounds how many offset-0, zero-size beacon
	// datagrams a receiver will ignore before treating one as real data.
	DefaultMaxBeaconEchoes = 3
)

// header is the 4-byte big-endian offset prefix carried by every chunk
// datagram, packed with struc the same way a fixed binary header is packed
// elsewhere in this codebase, adapted to a single big-endian uint32 field.
type header struct {
	Offset uint32
}

// Split fragments payload into chunks of at most size bytes, returning
// complete datagrams (prefix + payload) in descending-offset order. The
// final datagram in the slice always carries offset 0.
//
// If payload is empty, Split returns a single zero-size offset-0 datagram
// (the beacon/EOD form).
func Split(payload []byte, size int) ([][]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}

	n := len(payload)
	nChunks := (n + size - 1) / size
	if nChunks == 0 {
		nChunks = 1
	}

	datagrams := make([][]byte, 0, nChunks)
	// Walk offsets from the end of the payload down to 0.
	offsets := make([]int, 0, nChunks)
	for off := 0; off < n; off += size {
		offsets = append(offsets, off)
	}
	if len(offsets) == 0 {
		offsets = append(offsets, 0)
	}

	for i := len(offsets) - 1; i >= 0; i-- {
		off := offsets[i]
		end := off + size
		if end > n {
			end = n
		}

		dg, err := EncodeDatagram(off, payload[off:end])
		if err != nil {
			return nil, err
		}
		datagrams = append(datagrams, dg)
	}
	return datagrams, nil
}

// EncodeDatagram packs a single chunk datagram: a 4-byte big-endian offset
// prefix followed by body.
func EncodeDatagram(offset int, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.Pack(&buf, &header{Offset: uint32(offset)}); err != nil {
		return nil, errors.Wrap(err, "packing chunk offset prefix")
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// DecodeDatagram unpacks a chunk datagram into its offset and body.
//
// The returned body aliases dg; callers that retain it past the lifetime of
// dg's backing buffer (e.g. a pooled receive buffer) must copy it.
func DecodeDatagram(dg []byte) (offset int, body []byte, err error) {
	if len(dg) < PrefixLength {
		return 0, nil, errors.Errorf("datagram too short (%d bytes) for offset prefix", len(dg))
	}
	var h header
	if err := struc.Unpack(bytes.NewReader(dg[:PrefixLength]), &h); err != nil {
		return 0, nil, errors.Wrap(err, "unpacking chunk offset prefix")
	}
	return int(h.Offset), dg[PrefixLength:], nil
}

// IsBeacon reports whether a datagram is a zero-payload offset-0 beacon.
func IsBeacon(dg []byte) bool {
	off, body, err := DecodeDatagram(dg)
	return err == nil && off == 0 && len(body) == 0
}

// segment is one received (offset, payload) pair, optionally retained in a
// pooled buffer (via bufferpool.Pool) so Assembler can be reused across many
// replies without reallocating.
type segment struct {
	offset int
	size   int
	data   []byte
	pooled *bufferpool.Buffer // non-nil if data was allocated from a Pool
}

func (s *segment) release() {
	if s.pooled != nil {
		s.pooled.Release()
	}
}

// Assembler reassembles a sequence of received chunk datagrams into the
// original payload.
//
// Assembler is not safe for concurrent use; one Assembler should be used per
// in-flight reply.
type Assembler struct {
	Pool *bufferpool.Pool // optional; if nil, plain slices are copied instead

	segments    []segment
	done        bool
	beaconsSeen int
}

// Reset clears and prepares the Assembler for reuse on a new reply.
func (a *Assembler) Reset() {
	for i := range a.segments {
		a.segments[i].release()
	}
	a.segments = a.segments[:0]
	a.done = false
	a.beaconsSeen = 0
}

// AddDatagram feeds one received datagram into the assembler.
//
// It returns done=true once an offset-0 terminator has been seen (the
// payload may still have gaps at that point; call Gaps to check).
func (a *Assembler) AddDatagram(dg []byte) (done bool, err error) {
	offset, body, err := DecodeDatagram(dg)
	if err != nil {
		return false, err
	}

	if offset == 0 && len(body) == 0 {
		// Beacon echo: ignore up to DefaultMaxBeaconEchoes of them before
		// treating a zero-size offset-0 datagram as the real terminator of an
		// empty reply.
		if a.beaconsSeen < DefaultMaxBeaconEchoes && len(a.segments) == 0 {
			a.beaconsSeen++
			return false, nil
		}
	}

	seg := segment{offset: offset, size: len(body)}
	if a.Pool != nil {
		b := a.Pool.Get()
		dst := b.Bytes()
		if cap(dst) < len(body) {
			dst = make([]byte, len(body))
		}
		dst = dst[:len(body)]
		copy(dst, body)
		seg.pooled = b
		seg.data = dst
	} else {
		seg.data = append([]byte(nil), body...)
	}
	a.segments = append(a.segments, seg)

	if offset == 0 {
		a.done = true
	}
	return a.done, nil
}

// Gaps returns the list of missing (offset, length) ranges that must be
// retransmitted before Payload can succeed.
func (a *Assembler) Gaps() []Gap {
	segs := append([]segment(nil), a.segments...)
	sort.Slice(segs, func(i, j int) bool { return segs[i].offset < segs[j].offset })

	var gaps []Gap
	prevEnd := 0
	for _, s := range segs {
		if s.offset > prevEnd {
			gaps = append(gaps, Gap{Offset: prevEnd, Length: s.offset - prevEnd})
		}
		end := s.offset + s.size
		if end > prevEnd {
			prevEnd = end
		}
	}
	return gaps
}

// Gap names a missing byte range in a reassembled payload.
type Gap struct {
	Offset int
	Length int
}

// Payload returns the reassembled payload.
//
// It fails if the terminator hasn't arrived yet or if gaps remain.
func (a *Assembler) Payload() ([]byte, error) {
	if !a.done {
		return nil, errors.New("reassembly incomplete: no terminator received")
	}
	if gaps := a.Gaps(); len(gaps) > 0 {
		return nil, errors.Errorf("reassembly incomplete: %d gap(s) remain", len(gaps))
	}

	total := 0
	for _, s := range a.segments {
		if end := s.offset + s.size; end > total {
			total = end
		}
	}

	out := make([]byte, total)
	for _, s := range a.segments {
		copy(out[s.offset:s.offset+s.size], s.data)
	}
	return out, nil
}
