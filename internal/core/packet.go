// Package core defines the data structures shared by the pipeline stages.
package core

import "time"

// InlineThreshold is the largest payload stored inside the buffer itself.
// Larger payloads get a dedicated heap slice sized exactly to the payload.
const InlineThreshold = 750

// StorageKind tells where a PacketBuffer keeps its payload.
type StorageKind uint8

const (
	StorageEmpty StorageKind = iota
	StorageInline
	StorageHeap
)

func (k StorageKind) String() string {
	switch k {
	case StorageInline:
		return "inline"
	case StorageHeap:
		return "heap"
	default:
		return "empty"
	}
}

// CaptureInfo is the per-frame metadata reported by the capture driver.
type CaptureInfo struct {
	Timestamp      time.Time // Capture timestamp (kernel timestamp preferred)
	CaptureLen     uint32    // Bytes actually captured
	OrigLen        uint32    // Frame length on the wire
	InterfaceIndex int
}

// PacketBuffer holds one captured frame.
//
// The buffer is exclusively owned by whoever holds it: the capture stage until it is
// emplaced, then the queue slot, then the extractor. Plain assignment of a heap-backed
// buffer aliases its payload; use Clone for an independent copy and Move to hand it over.
type PacketBuffer struct {
	Info CaptureInfo

	kind   StorageKind
	size   int
	inline [InlineThreshold]byte
	heap   []byte
}

// NewPacketBuffer copies data into a new buffer.
func NewPacketBuffer(info CaptureInfo, data []byte) PacketBuffer {
	var p PacketBuffer
	p.Fill(info, data)
	return p
}

// Fill replaces the buffer contents with a copy of data. Payloads up to InlineThreshold
// bytes are copied inline without allocating; larger payloads get a fresh heap slice of
// exactly len(data) bytes.
func (p *PacketBuffer) Fill(info CaptureInfo, data []byte) {
	p.Info = info
	p.size = len(data)
	p.heap = nil

	switch {
	case len(data) == 0:
		p.kind = StorageEmpty
	case len(data) <= InlineThreshold:
		p.kind = StorageInline
		copy(p.inline[:], data)
	default:
		p.kind = StorageHeap
		p.heap = make([]byte, len(data))
		copy(p.heap, data)
	}
}

// Payload returns the frame bytes. The slice is only valid while the caller owns the buffer.
func (p *PacketBuffer) Payload() []byte {
	switch p.kind {
	case StorageInline:
		return p.inline[:p.size]
	case StorageHeap:
		return p.heap
	default:
		return nil
	}
}

// Len returns the payload length.
func (p *PacketBuffer) Len() int { return p.size }

// Kind returns the storage variant in use.
func (p *PacketBuffer) Kind() StorageKind { return p.kind }

// Empty reports whether the buffer holds no payload.
func (p *PacketBuffer) Empty() bool { return p.kind == StorageEmpty }

// Clone returns a deep copy that shares no memory with p.
func (p *PacketBuffer) Clone() PacketBuffer {
	var c PacketBuffer
	c.Fill(p.Info, p.Payload())
	return c
}

// Move transfers the contents to the returned buffer and leaves p empty.
// The heap payload, if any, changes owner without being copied.
func (p *PacketBuffer) Move() PacketBuffer {
	moved := PacketBuffer{
		Info: p.Info,
		kind: p.kind,
		size: p.size,
		heap: p.heap,
	}
	if p.kind == StorageInline {
		copy(moved.inline[:], p.inline[:p.size])
	}
	p.Reset()
	return moved
}

// Reset drops the payload and metadata.
func (p *PacketBuffer) Reset() {
	p.Info = CaptureInfo{}
	p.kind = StorageEmpty
	p.size = 0
	p.heap = nil
}
