// Package container implements the FLV-family demuxer and GOP cache (C3):
// it turns the encoder's raw byte stream into self-contained container
// frames, and retains just enough of that stream (header, metadata, the
// most recent closed group-of-pictures) to let a late-joining subscriber
// start decoding from the next keyframe without artifacts.
package container

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/screencastd/screencastd/internal/logger"
)

// Tag kind identifiers, shared with the FLV/RTMP tag numbering the teacher's
// media package already used for codec detection.
const (
	KindAudio  byte = 8
	KindVideo  byte = 9
	KindScript byte = 18
)

const (
	headerSize    = 13 // 9-byte FLV signature/version/flags + 4-byte PreviousTagSize0
	tagHeaderSize = 11 // 1-byte kind + 3-byte length + 3-byte low ts + 1-byte high ts + 3-byte stream id
	trailerSize   = 4  // PreviousTagSize
)

// Frame is one parsed unit of the encoder's output. Raw carries the full
// on-wire tag (header + payload + trailer) so it is self-contained when
// replayed to a late-joining subscriber.
type Frame struct {
	Kind       byte
	Raw        []byte
	Payload    []byte // tag body only, excluding the 11-byte tag header and 4-byte trailer
	Timestamp  uint32
	IsKeyframe bool // only meaningful when Kind == KindVideo
}

// Demuxer parses an in-order byte stream into Frames and retains a bounded
// cache: the container header, the first metadata (script) frame, and
// up to maxGOP closed groups-of-pictures plus the currently-open one.
//
// Feed always returns its input unchanged: the live broadcast is independent
// of the cache (rule 1 of the container contract) even when a tag straddles
// two Feed calls.
type Demuxer struct {
	mu       sync.Mutex
	instance string
	maxGOP   int

	headerCaptured bool
	header         []byte

	metadataCaptured bool
	metadata         []byte

	closedGOPs [][]Frame
	currentGOP []Frame

	pending []byte
}

// New returns a Demuxer for the named instance. maxGOP must be >= 1.
func New(instanceName string, maxGOP int) *Demuxer {
	if maxGOP < 1 {
		maxGOP = 1
	}
	return &Demuxer{instance: instanceName, maxGOP: maxGOP}
}

// Feed accepts the next chunk of encoder output, in order, and returns it
// unchanged for immediate broadcast while updating the cache as a side
// effect.
func (d *Demuxer) Feed(chunk []byte) []byte {
	if len(chunk) == 0 {
		return chunk
	}

	d.mu.Lock()

	d.pending = append(d.pending, chunk...)

	if !d.headerCaptured {
		if len(d.pending) < headerSize {
			d.mu.Unlock()
			return chunk
		}
		hdr := make([]byte, headerSize)
		copy(hdr, d.pending[:headerSize])
		if !bytes.HasPrefix(hdr, []byte("FLV")) {
			logger.Logger().Warn("container_invalid_header_signature",
				slog.String("instance", d.instance))
		}
		d.header = hdr
		d.headerCaptured = true
		d.pending = d.pending[headerSize:]
	}

	d.processTags()
	d.mu.Unlock()

	return chunk
}

// processTags consumes as many complete tags as are currently buffered,
// leaving any trailing partial tag in d.pending for the next Feed call.
func (d *Demuxer) processTags() {
	for {
		if len(d.pending) < tagHeaderSize {
			return
		}
		length := int(d.pending[1])<<16 | int(d.pending[2])<<8 | int(d.pending[3])
		total := tagHeaderSize + length + trailerSize
		if len(d.pending) < total {
			return // frame's declared length exceeds buffered bytes: wait for more
		}

		raw := make([]byte, total)
		copy(raw, d.pending[:total])
		kind := raw[0]
		tsLow := uint32(raw[4])<<16 | uint32(raw[5])<<8 | uint32(raw[6])
		tsHigh := uint32(raw[7])
		timestamp := tsHigh<<24 | tsLow
		payload := raw[tagHeaderSize : tagHeaderSize+length]

		d.handleTag(kind, raw, payload, timestamp)
		d.pending = d.pending[total:]
	}
}

func (d *Demuxer) handleTag(kind byte, raw, payload []byte, timestamp uint32) {
	switch kind {
	case KindScript:
		if !d.metadataCaptured {
			d.metadata = raw
			d.metadataCaptured = true
		}
	case KindVideo:
		isKeyframe := len(payload) >= 1 && (payload[0]>>4)&0x0F == 1
		frame := Frame{Kind: KindVideo, Raw: raw, Payload: payload, Timestamp: timestamp, IsKeyframe: isKeyframe}
		switch {
		case isKeyframe:
			if len(d.currentGOP) > 0 {
				d.closeCurrentGOP()
			}
			d.currentGOP = []Frame{frame}
		case len(d.currentGOP) > 0:
			d.currentGOP = append(d.currentGOP, frame)
		default:
			// frame before the first keyframe: never part of a replayable GOP
		}
	case KindAudio:
		frame := Frame{Kind: KindAudio, Raw: raw, Payload: payload, Timestamp: timestamp}
		if len(d.currentGOP) > 0 {
			d.currentGOP = append(d.currentGOP, frame)
		}
	}
}

func (d *Demuxer) closeCurrentGOP() {
	d.closedGOPs = append(d.closedGOPs, d.currentGOP)
	if len(d.closedGOPs) > d.maxGOP {
		d.closedGOPs = d.closedGOPs[1:]
	}
}

// Ready reports whether the cache holds enough state to serve InitialReplay:
// header present, metadata present, and at least one GOP (closed or open).
func (d *Demuxer) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready()
}

func (d *Demuxer) ready() bool {
	return d.headerCaptured && d.metadataCaptured && (len(d.closedGOPs) > 0 || len(d.currentGOP) > 0)
}

// InitialReplay returns header ⧺ metadata ⧺ (last closed GOP, or the current
// open GOP as a tie-break). Returns nil when the cache is not ready.
func (d *Demuxer) InitialReplay() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ready() {
		return nil
	}

	var gop []Frame
	if len(d.closedGOPs) > 0 {
		gop = d.closedGOPs[len(d.closedGOPs)-1]
	} else {
		gop = d.currentGOP
	}

	size := len(d.header) + len(d.metadata)
	for _, f := range gop {
		size += len(f.Raw)
	}

	out := make([]byte, 0, size)
	out = append(out, d.header...)
	out = append(out, d.metadata...)
	for _, f := range gop {
		out = append(out, f.Raw...)
	}
	return out
}

// Reset discards all cache state. Called when the encoder supervisor is
// torn down so a subsequent session cannot splice its fresh header onto a
// stale GOP.
func (d *Demuxer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.headerCaptured = false
	d.header = nil
	d.metadataCaptured = false
	d.metadata = nil
	d.closedGOPs = nil
	d.currentGOP = nil
	d.pending = nil
}
