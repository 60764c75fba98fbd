package bucket

import (
	"errors"
	"io"
	"os"

	"github.com/sanjayhashcash/ledgerbucket/internal/bucketfile"
)

// Bucket is the immutable 4-tuple of spec.md §3: (filename, hash, size,
// index?). The empty bucket is distinguished by empty Path and zero Hash.
// Per the design notes' "optional caches inside an immutable object", a
// Bucket opens a fresh *os.File per lookup rather than holding a cached,
// not-thread-safe stream; the OS page cache absorbs the repeated-open
// cost for hot buckets the same way re-opening does for journal readers.
type Bucket struct {
	Path  string
	Hash  Hash
	Size  int64
	Index *Index
}

func EmptyBucket() Bucket { return Bucket{} }

func (b Bucket) IsEmpty() bool { return b.Path == "" && b.Hash.IsZero() }

// WithIndex returns a copy of b with idx attached; attaching an index
// never changes a bucket's identity (spec.md §3).
func (b Bucket) WithIndex(idx *Index) Bucket {
	b.Index = idx
	return b
}

// GetBucketEntry is the point lookup of spec.md §4.4.
func (b Bucket) GetBucketEntry(k Key) (Entry, bool, error) {
	if b.IsEmpty() || b.Index == nil {
		return Entry{}, false, nil
	}
	offset, ok := b.Index.Lookup(k)
	if !ok {
		return Entry{}, false, nil
	}
	f, err := os.Open(b.Path)
	if err != nil {
		return Entry{}, false, err
	}
	defer f.Close()

	if b.Index.PageSize() == 0 {
		rec, err := bucketfile.ReadRecordAt(f, offset)
		if err != nil {
			return Entry{}, false, err
		}
		e, err := decodeRecord(rec)
		if err != nil {
			return Entry{}, false, err
		}
		return e, true, nil
	}

	recs, err := b.Index.ReadPage(f, offset)
	if err != nil {
		return Entry{}, false, err
	}
	for _, rec := range recs {
		e, err := decodeRecord(rec)
		if err != nil {
			return Entry{}, false, err
		}
		if e.Key.Equal(k) {
			return e, true, nil
		}
	}
	b.Index.MarkBloomMiss()
	return Entry{}, false, nil
}

// LoadKeys is the batch/range lookup of spec.md §4.4: wanted is a
// sorted set of keys to resolve, mutated in place by removing every key
// this bucket resolves (found as DEAD or as a live value), so that
// older levels in the hierarchy never see it again. Found live entries'
// values are appended to out.
func (b Bucket) LoadKeys(wanted []Key, out []Entry) ([]Key, []Entry, error) {
	if b.IsEmpty() || b.Index == nil || len(wanted) == 0 {
		return wanted, out, nil
	}
	f, err := os.Open(b.Path)
	if err != nil {
		return wanted, out, err
	}
	defer f.Close()

	remaining := wanted[:0]
	cur := b.Index.Begin()
	for _, k := range wanted {
		offset, found, next := b.Index.Scan(cur, k)
		cur = next
		if !found {
			remaining = append(remaining, k)
			continue
		}
		rec, err := bucketfile.ReadRecordAt(f, offset)
		if err != nil {
			return wanted, out, err
		}
		e, err := decodeRecord(rec)
		if err != nil {
			return wanted, out, err
		}
		if e.Kind != EntryDead {
			out = append(out, e)
		}
		// found (dead or live): drop from the wanted set either way.
	}
	return remaining, out, nil
}

// LoadPoolShareTrustlinesByAccount is spec.md §4.4's pool-share scan.
// seen accumulates every trustline key this bucket (or a newer one)
// has already resolved so older levels cannot resurrect it; byPool and
// poolKeys accumulate the resolved live trustlines grouped by the
// liquidity-pool key their asset derives.
func (b Bucket) LoadPoolShareTrustlinesByAccount(
	accountID []byte,
	seen map[string]struct{},
	byPool map[string]Entry,
	poolKeys []Key,
) ([]Key, error) {
	if b.IsEmpty() || b.Index == nil {
		return poolKeys, nil
	}
	lo, hi, ok := b.Index.GetPoolshareTrustlineRange(accountID)
	if !ok {
		return poolKeys, nil
	}
	f, err := os.Open(b.Path)
	if err != nil {
		return poolKeys, err
	}
	defer f.Close()

	recs, err := bucketfile.ReadPage(f, lo, int(hi-lo))
	if err != nil {
		return poolKeys, err
	}
	for _, rec := range recs {
		if rec.Kind == bucketfile.KindMeta {
			return poolKeys, errors.New("bucket: malformed bucket: META inside trustline range")
		}
		e, err := decodeRecord(rec)
		if err != nil {
			return poolKeys, err
		}
		// A framed record carries only the raw key bytes; take the entry
		// type the index recorded for this key.
		if i := b.Index.search(e.Key); i < len(b.Index.entries) && b.Index.entries[i].Key.Equal(e.Key) {
			e.Key.Type = b.Index.entries[i].Key.Type
		}
		if !e.IsTrustline() {
			continue
		}
		keyStr := string(e.Key.Raw)
		if _, dup := seen[keyStr]; dup {
			continue
		}
		if e.Kind == EntryDead {
			seen[keyStr] = struct{}{}
			continue
		}
		seen[keyStr] = struct{}{}
		pk := e.Value.PoolKey()
		byPool[string(pk.Raw)] = e
		poolKeys = append(poolKeys, pk)
	}
	return poolKeys, nil
}

// ContainsBucketIdentity is the linear-scan identity test of spec.md
// §4.4: true iff some record in b is key-equal to e.
func (b Bucket) ContainsBucketIdentity(e Entry) (bool, error) {
	if b.IsEmpty() {
		return false, nil
	}
	c, err := OpenCursor(b.Path)
	if err != nil {
		return false, err
	}
	defer c.Close()
	for c.Valid() {
		if equalKeyed(c.Entry(), e) {
			return true, nil
		}
		if err := c.Advance(); err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
	}
	return false, nil
}
