package mmap

import (
	"os"
)

type Options uint

const (
	// Writable opens the file for writing (otherwise, it's opened read-only).
	Writable Options = 1 << 0

	// SequentialAccess is a hint requesting aggressive read-ahead.
	// Incompatible with RandomAccess. Maps to MADV_SEQUENTIAL on Unix.
	SequentialAccess Options = 1 << 1

	// RandomAccess is a hint that read ahead is less useful than normally.
	// Incompatible with SequentialAccess. Maps to MADV_RANDOM on Unix.
	RandomAccess Options = 1 << 2

	// Prefault is a hint requesting the entire file to be loaded in memory
	// for fastest access. Maps to MAP_POPULATE on Linux.
	Prefault Options = 1 << 3
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// Mmap memory maps the region [offset, offset+size) of f. offset need
// not be page-aligned: the underlying syscall requires it, so Mmap
// rounds down to the nearest page boundary and maps size plus the
// resulting padding; pad is how many leading bytes of the returned
// slice belong to that padding, so data[pad:pad+size] is the caller's
// requested region. Callers that want to slice an arbitrary page out
// of a bucket file (the index's pageSize()-aware page fetch) use this
// directly rather than requiring offset==0, which is what this package
// did before the bucket engine needed arbitrary page offsets.
func Mmap(f *os.File, offset int64, size int, opt Options) (data []byte, pad int, err error) {
	pageSize := int64(os.Getpagesize())
	aligned := offset - (offset % pageSize)
	pad = int(offset - aligned)
	data, err = mmap(f, aligned, size+pad, opt)
	return data, pad, err
}

// Munmap unmaps the given slice from memory. The slice must have been
// returned by Mmap in full (including any leading pad bytes) — do not
// pass data[pad:].
func Munmap(b []byte) error {
	return munmap(b)
}
