package bucket

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"sort"
	"sync/atomic"

	"github.com/willf/bloom"

	"github.com/sanjayhashcash/ledgerbucket/internal/bucketfile"
	"github.com/sanjayhashcash/ledgerbucket/mmap"
)

// indexEntry is one (key, offset) pair recorded by the output builder
// while writing a bucket file.
type indexEntry struct {
	Key    Key
	Offset int64
}

// IndexCursor is an opaque, monotonically-advancing position into an
// Index, the cursor half of spec.md §3's begin()/end()/scan() contract.
type IndexCursor struct {
	pos int
}

// Index is the lazily-built, read-only structure of spec.md §3: offset
// lookup by key, a forward cursor pair for tandem range scans, optional
// paged reads, a bloom filter, and the pool-share trustline range query.
// It is built in one pass by the output builder once a bucket's bytes
// are finalized (spec.md §4.3) and is immutable thereafter; the only
// mutable state is the bloom-miss counter, which is safe for concurrent
// readers via atomic increment (spec.md §5's "cached streams are not
// thread-safe" caveat does not apply to the index itself, only to the
// file streams a handle opens to satisfy a lookup).
type Index struct {
	path     string
	entries  []indexEntry // sorted ascending by Key, META excluded
	fileSize int64
	pageSz   int
	useMmap  bool
	filter   *bloom.BloomFilter

	bloomMisses atomic.Uint64
}

// buildIndex constructs the offset index for path from entries already
// collected for its INIT/LIVE/DEAD records (sorted, META excluded) plus an
// optional bloom filter sized to the number of entries; it does not read
// the file itself.
func buildIndex(path string, entries []indexEntry, fileSize int64, pageSize int, useBloom bool) *Index {
	idx := &Index{path: path, entries: entries, fileSize: fileSize, pageSz: pageSize, useMmap: pageSize > 0}
	if useBloom && len(entries) > 0 {
		idx.filter = bloom.NewWithEstimates(uint(len(entries)), 0.01)
		for _, e := range entries {
			idx.filter.Add(e.Key.Raw)
		}
	}
	return idx
}

func (ix *Index) PageSize() int { return ix.pageSz }

// ReadPage decodes the records that start at offset and lie wholly within
// the page containing offset (SPEC_FULL.md §11: the index's page reads go through mmap
// rather than a ReadAt, adapting this codebase's mmap package to the
// non-zero, non-page-aligned offsets a bucket page boundary produces).
// It falls back to a plain ReadAt-based scan when the index was built
// with pageSize()==0 or mmap setup fails, since a mapped view is pure
// overhead for a single-record point lookup.
func (ix *Index) ReadPage(f *os.File, offset int64) ([]bucketfile.Record, error) {
	if !ix.useMmap || ix.pageSz <= 0 {
		return bucketfile.ReadPage(f, offset, ix.pageSz)
	}
	pageStart := (offset / int64(ix.pageSz)) * int64(ix.pageSz)
	pageLen := ix.pageSz
	if pageStart+int64(pageLen) > ix.fileSize {
		pageLen = int(ix.fileSize - pageStart)
	}
	data, pad, err := mmap.Mmap(f, pageStart, pageLen, mmap.RandomAccess)
	if err != nil {
		return bucketfile.ReadPage(f, offset, ix.pageSz)
	}
	defer mmap.Munmap(data)
	return decodeRecordsFromPage(data[pad+int(offset-pageStart) : pad+pageLen])
}

func decodeRecordsFromPage(page []byte) ([]bucketfile.Record, error) {
	r := bufio.NewReader(bytes.NewReader(page))
	var recs []bucketfile.Record
	for {
		rec, err := bucketfile.ReadOne(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, bucketfile.ErrTruncated) {
				break
			}
			return recs, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// MarkBloomMiss records a bloom false positive: the filter said "maybe
// present" but the page scan found no matching record (spec.md §4.4).
func (ix *Index) MarkBloomMiss() { ix.bloomMisses.Add(1) }

func (ix *Index) BloomFalsePositives() uint64 { return ix.bloomMisses.Load() }

// mayContain consults the bloom filter, if any; with no filter built,
// every key is a candidate and the caller falls through to a real lookup.
func (ix *Index) mayContain(k Key) bool {
	if ix.filter == nil {
		return true
	}
	return ix.filter.Test(k.Raw)
}

func (ix *Index) search(k Key) int {
	return sort.Search(len(ix.entries), func(i int) bool {
		return bytes.Compare(ix.entries[i].Key.Raw, k.Raw) >= 0
	})
}

// Lookup returns the byte offset of k's record, or ok=false if absent.
func (ix *Index) Lookup(k Key) (offset int64, ok bool) {
	if !ix.mayContain(k) {
		return 0, false
	}
	i := ix.search(k)
	if i < len(ix.entries) && ix.entries[i].Key.Equal(k) {
		return ix.entries[i].Offset, true
	}
	return 0, false
}

func (ix *Index) Begin() IndexCursor { return IndexCursor{pos: 0} }
func (ix *Index) End() IndexCursor   { return IndexCursor{pos: len(ix.entries)} }

// Scan advances cur monotonically forward while the entry it points to
// has a key strictly less than k, then reports whether the entry it
// lands on (if any) matches k exactly. Because both the index and the
// caller's wanted-key sequence are ascending, repeated calls with
// increasing k never re-scan a prefix (spec.md §4.4's "tandem,
// monotonic" batch lookup).
func (ix *Index) Scan(cur IndexCursor, k Key) (offset int64, ok bool, next IndexCursor) {
	pos := cur.pos
	for pos < len(ix.entries) && bytes.Compare(ix.entries[pos].Key.Raw, k.Raw) < 0 {
		pos++
	}
	if pos < len(ix.entries) && ix.entries[pos].Key.Equal(k) {
		return ix.entries[pos].Offset, true, IndexCursor{pos: pos}
	}
	return 0, false, IndexCursor{pos: pos}
}

// GetPoolshareTrustlineRange returns the half-open byte-offset range
// [lo, hi) spanning every trustline record owned by accountID, derived
// from the raw key prefix (account id followed by trustline-specific
// suffix bytes) using inc() to compute the exclusive upper bound the
// same way a prefix-range scan would over any sorted byte-keyed store.
func (ix *Index) GetPoolshareTrustlineRange(accountID []byte) (lo, hi int64, ok bool) {
	if len(ix.entries) == 0 {
		return 0, 0, false
	}
	loRaw := accountID
	hiRaw := append([]byte{}, accountID...)
	inc(hiRaw)

	loPos := sort.Search(len(ix.entries), func(i int) bool {
		return bytes.Compare(ix.entries[i].Key.Raw, loRaw) >= 0
	})
	hiPos := sort.Search(len(ix.entries), func(i int) bool {
		return bytes.Compare(ix.entries[i].Key.Raw, hiRaw) >= 0
	})
	// Trim to actual trustline records within [loPos, hiPos): the account
	// prefix range may also catch non-trustline keys sharing the prefix
	// under a different raw encoding scheme, so filter defensively.
	for loPos < hiPos && ix.entries[loPos].Key.Type != EntryTypeTrustline {
		loPos++
	}
	lastTrustline := loPos
	for i := loPos; i < hiPos; i++ {
		if ix.entries[i].Key.Type == EntryTypeTrustline {
			lastTrustline = i + 1
		}
	}
	if loPos >= lastTrustline {
		return 0, 0, false
	}
	hiOff := ix.fileSize
	if lastTrustline < len(ix.entries) {
		hiOff = ix.entries[lastTrustline].Offset
	}
	return ix.entries[loPos].Offset, hiOff, true
}
