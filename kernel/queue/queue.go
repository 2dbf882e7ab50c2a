// Package queue implements the lock-free single-producer, multi-consumer
// job queue that hands work out to idle cores: a fixed-size ring of
// cache-line-sized slots, each owned by sequence number rather than by a
// lock, so any number of consumer cores can race to claim the next ready
// job without blocking the producer or each other.
package queue

import (
	"sync/atomic"
	"unsafe"

	"github.com/calint/uefi-os/kernel/cpu"
)

// PayloadSize is the maximum in-place size of a job submitted to the
// queue.
const PayloadSize = 48

// Size is the number of slots in the ring. Must stay a power of two;
// changing it means recompiling the kernel, since there is no allocator
// available at the point this queue is constructed.
const Size = 256

// Job is implemented by every type submitted to the queue. Run executes
// the job; the consumer invokes Run and nothing else, so any resource a
// job holds must be released inside its own Run.
type Job interface {
	Run()
}

// slot is exactly one cache line: a 48-byte inline payload, an 8-byte
// function pointer that knows how to interpret it, and a 4-byte sequence
// number with 4 bytes of trailing padding.
type slot struct {
	payload  [PayloadSize]byte
	runner   func(unsafe.Pointer)
	sequence uint32
	pad      uint32
}

// Queue is the ring itself. head, tail and completed each sit on their own
// cache line so the producer's and consumers' progress counters never
// false-share; callers needing cache-line-aligned storage for Queue should
// allocate it from a page-aligned source, since Go does not expose an
// alignment attribute stronger than the platform's natural 8-byte default.
type Queue struct {
	slots [Size]slot

	head uint32
	_    [60]byte

	tail uint32
	_    [60]byte

	completed uint32
	_         [60]byte
}

// Init zeroes head, tail and completed and seeds every slot's sequence
// number with its own index, so the first lap's producer and consumer
// checks line up. Call once, before any Add/RunNext.
func (q *Queue) Init() {
	q.head = 0
	q.tail = 0
	q.completed = 0
	for i := range q.slots {
		atomic.StoreUint32(&q.slots[i].sequence, uint32(i))
	}
}

// TryAdd constructs v in place in the next slot and returns false if that
// slot is not yet free (the queue is full). Must only ever be called by
// the single producer.
//
// Go's generics do not support a true compile-time size assertion on a
// type parameter (the closest idiom to the payload-size static_assert this
// contract would carry in a language that does), so an oversized T panics
// here instead: a deterministic, immediate failure rather than a silent
// buffer overrun.
func TryAdd[T Job](q *Queue, v T) bool {
	if unsafe.Sizeof(v) > PayloadSize {
		panic("queue: job payload exceeds slot budget")
	}

	idx := q.head & (Size - 1)
	s := &q.slots[idx]

	if atomic.LoadUint32(&s.sequence) != q.head {
		return false
	}

	*(*T)(unsafe.Pointer(&s.payload[0])) = v
	s.runner = func(p unsafe.Pointer) {
		(*(*T)(p)).Run()
	}

	atomic.StoreUint32(&s.sequence, q.head+1)
	q.head++

	return true
}

// Add spins until TryAdd succeeds.
func Add[T Job](q *Queue, v T) {
	for !TryAdd(q, v) {
		cpu.Pause()
	}
}

// RunNext executes one ready job, if one is available, and reports
// whether it did. Safe to call concurrently from any number of consumers.
func RunNext(q *Queue) bool {
	for {
		tail := atomic.LoadUint32(&q.tail)
		idx := tail & (Size - 1)
		s := &q.slots[idx]

		if atomic.LoadUint32(&s.sequence) != tail+1 {
			return false
		}

		if !atomic.CompareAndSwapUint32(&q.tail, tail, tail+1) {
			continue
		}

		s.runner(unsafe.Pointer(&s.payload[0]))

		atomic.StoreUint32(&s.sequence, tail+Size)
		atomic.AddUint32(&q.completed, 1)
		return true
	}
}

// ActiveCount returns the number of jobs submitted but not yet finished.
// Producer-only.
func (q *Queue) ActiveCount() uint32 {
	return q.head - atomic.LoadUint32(&q.completed)
}

// WaitIdle spins until every submitted job has completed. Producer-only.
func (q *Queue) WaitIdle() {
	for q.head != atomic.LoadUint32(&q.completed) {
		cpu.Pause()
	}
}
