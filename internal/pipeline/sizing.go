package pipeline

import (
	"math/bits"
	"unsafe"

	"firestige.xyz/dgawatch/internal/core"
	"firestige.xyz/dgawatch/internal/queue"
)

// domainBytes approximates the footprint of one batched name.
const domainBytes = 64

// defaultBatchSize sizes batch queues when the size trigger is disabled.
const defaultBatchSize = 1000

// Capacities holds the element capacity of each pipeline queue.
type Capacities struct {
	Packets  int
	Domains  int
	Outcomes int
}

// PacketBytes is the worst-case footprint of one queued packet captured with snaplen:
// the buffer itself plus a heap payload when frames can outgrow the inline storage.
func PacketBytes(snaplen int) uint64 {
	n := uint64(unsafe.Sizeof(core.PacketBuffer{}))
	if snaplen > core.InlineThreshold {
		n += uint64(snaplen)
	}
	return n
}

// Size splits budget bytes 80/10/10 across the raw-packet, domain and outcome queues.
// Packets are charged at their worst case for snaplen. Every capacity is at least 1.
// Ring capacities are rounded down to a power of two.
func Size(budget uint64, batchSize, snaplen int, kind queue.Kind) Capacities {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	packet := PacketBytes(snaplen)
	batch := uint64(batchSize) * domainBytes

	c := Capacities{
		Packets:  capacity(budget*8/10, packet),
		Domains:  capacity(budget/10, batch),
		Outcomes: capacity(budget/10, batch),
	}
	if kind == queue.KindRing || kind == "" {
		c.Packets = floorPow2(c.Packets)
		c.Domains = floorPow2(c.Domains)
		c.Outcomes = floorPow2(c.Outcomes)
	}
	return c
}

func capacity(share, elem uint64) int {
	n := share / elem
	if n < 1 {
		return 1
	}
	if n > 1<<30 {
		return 1 << 30
	}
	return int(n)
}

func floorPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << (bits.Len(uint(n)) - 1)
}
