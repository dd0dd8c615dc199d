// Package tracker aggregates memory usage and instance counts across all
// concurrently running guest instances of a process.
package tracker

import "sync/atomic"

// MemoryTracker tracks peak memory usage across all instances.
//
// Each field is synchronized on its own. Reads never observe a torn value of
// a single field, but there is no snapshot spanning all three; callers that
// need one must not derive invariants across fields.
type MemoryTracker struct {
	peakMemory    atomic.Uint64
	currentMemory atomic.Uint64
	instanceCount atomic.Uint64
}

// New creates an empty tracker. The process constructs one at startup and
// passes it to every component that reports into it.
func New() *MemoryTracker {
	return &MemoryTracker{}
}

// UpdateMemory records the latest observed memory usage and raises the peak
// if usage exceeds it.
func (t *MemoryTracker) UpdateMemory(usage uint64) {
	t.currentMemory.Store(usage)
	for {
		peak := t.peakMemory.Load()
		if usage <= peak || t.peakMemory.CompareAndSwap(peak, usage) {
			return
		}
	}
}

// PeakMemory returns the highest usage recorded so far.
func (t *MemoryTracker) PeakMemory() uint64 {
	return t.peakMemory.Load()
}

// CurrentMemory returns the most recently recorded usage.
func (t *MemoryTracker) CurrentMemory() uint64 {
	return t.currentMemory.Load()
}

// IncrementInstanceCount records one more prepared instance.
func (t *MemoryTracker) IncrementInstanceCount() {
	t.instanceCount.Add(1)
}

// InstanceCount returns the number of instances prepared so far.
func (t *MemoryTracker) InstanceCount() uint64 {
	return t.instanceCount.Load()
}

// Stats is a point-in-time view of the tracker for display. Fields are read
// one after another and may be mutually inconsistent under load.
type Stats struct {
	PeakMemory    uint64
	CurrentMemory uint64
	InstanceCount uint64
}

// Stats reads all three fields.
func (t *MemoryTracker) Stats() Stats {
	return Stats{
		PeakMemory:    t.PeakMemory(),
		CurrentMemory: t.CurrentMemory(),
		InstanceCount: t.InstanceCount(),
	}
}
