package bucket

import (
	"fmt"
	"log/slog"

	"github.com/sanjayhashcash/ledgerbucket/internal/bucketfile"
)

// OutputBuilder is the streaming writer of spec.md §4.3: accepts
// strictly-ascending entries, accumulates a content hash as it writes,
// and finalizes into a published Bucket handle registered with a
// BucketManager. Both the fresh-bucket constructor (fresh.go) and the
// merge engine (merge.go) build their output through one of these.
type OutputBuilder struct {
	cfg     Config
	manager BucketManager
	logger  *slog.Logger

	w               *bucketfile.Writer
	tmpPath         string
	oldestLevel     bool
	keepDeadEntries bool

	entries  []indexEntry
	count    int64
	haveLast bool
	last     Entry
	wroteAny bool
}

// NewOutputBuilder opens a fresh temp file under manager's temp dir.
// oldestLevel and keepDeadEntries together gate the secondary tombstone
// elision of spec.md §4.3: when oldestLevel is true and keepDeadEntries
// is false, DEAD entries are dropped instead of written.
func NewOutputBuilder(cfg Config, manager BucketManager, oldestLevel, keepDeadEntries bool, logger *slog.Logger) (*OutputBuilder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tmpPath := manager.TempBucketPath()
	w, err := bucketfile.Create(tmpPath)
	if err != nil {
		return nil, err
	}
	return &OutputBuilder{cfg: cfg, manager: manager, logger: logger, w: w, tmpPath: tmpPath, oldestLevel: oldestLevel, keepDeadEntries: keepDeadEntries}, nil
}

// PutMeta writes the leading META record; must be called at most once,
// before any Put, matching spec.md §3's "unique first record" invariant.
func (ob *OutputBuilder) PutMeta(m Metadata) error {
	if ob.wroteAny {
		panic("bucket: PutMeta called after entries were written")
	}
	_, err := ob.w.WriteRecord(encodeRecord(MetaEntry(m)))
	return err
}

// Put appends one entry, enforcing spec.md §4.3's strict-ascending,
// no-duplicate ordering (a regression is fatal) and applying the
// oldest-level DEAD elision rule.
func (ob *OutputBuilder) Put(e Entry) error {
	if e.Kind == EntryMeta {
		panic("bucket: Put called with a META entry; use PutMeta")
	}
	if ob.haveLast {
		c := compareEntries(ob.last, e)
		if c == 0 {
			panic(fmt.Sprintf("bucket: output builder: duplicate key %x", e.Key.Raw))
		}
		if c > 0 {
			panic(fmt.Sprintf("bucket: output builder: ordering regression at key %x", e.Key.Raw))
		}
	}
	ob.last = e
	ob.haveLast = true

	if e.Kind == EntryDead && ob.oldestLevel && !ob.keepDeadEntries {
		return nil
	}

	offset, err := ob.w.WriteRecord(encodeRecord(e))
	if err != nil {
		return err
	}
	ob.wroteAny = true
	ob.count++
	ob.entries = append(ob.entries, indexEntry{Key: e.Key, Offset: offset})
	return nil
}

// GetBucket finalizes the builder into a published Bucket (spec.md
// §4.3): flush, fsync, rename/register under the manager's hash-derived
// name, and attach a freshly built index when useIndex is true. If
// mergeKey is non-nil and the manager already has a result for it, that
// cached bucket is returned without touching the file being built here.
func (ob *OutputBuilder) GetBucket(useIndex bool, mergeKey *MergeKey) (Bucket, error) {
	if mergeKey != nil {
		if path, hash, ok := ob.manager.LookupMerge(*mergeKey); ok {
			ob.w.Abort()
			// The cached bucket's bytes were not written by this builder, so
			// its index must come from the file, not from ob.entries.
			ob.entries = nil
			return ob.attachIndexIfRequested(Bucket{Path: path, Hash: hash}, useIndex)
		}
	}

	if ob.count == 0 {
		ob.w.Abort()
		return EmptyBucket(), nil
	}

	if err := ob.w.Sync(); err != nil {
		ob.w.Close()
		return Bucket{}, err
	}
	hash := ob.w.ContentHash()
	size := ob.w.Size()
	if err := ob.w.Close(); err != nil {
		return Bucket{}, err
	}

	canonical, adopted, err := ob.manager.Adopt(hash, ob.tmpPath, size)
	if err != nil {
		return Bucket{}, err
	}
	if adopted {
		ob.logger.Debug("bucket: published new bucket", hexAttr("hash", hash[:]), slog.Int64("size", size), slog.Int64("entries", ob.count))
	}
	b := Bucket{Path: canonical, Hash: hash, Size: size}

	if mergeKey != nil {
		if err := ob.manager.RecordMerge(*mergeKey, hash, canonical); err != nil {
			return Bucket{}, err
		}
	}

	return ob.attachIndexIfRequested(b, useIndex)
}

func (ob *OutputBuilder) attachIndexIfRequested(b Bucket, useIndex bool) (Bucket, error) {
	if !useIndex || b.IsEmpty() {
		return b, nil
	}
	entries := ob.entries
	if entries == nil {
		// The bucket came from the merge-dedup cache; rebuild the index
		// entries by a fresh cursor pass since this builder never wrote
		// these bytes itself.
		var err error
		entries, err = scanIndexEntries(b.Path)
		if err != nil {
			return b, err
		}
	}
	idx := buildIndex(b.Path, entries, b.Size, ob.cfg.IndexPageSize, ob.cfg.UseBloomFilter)
	return b.WithIndex(idx), nil
}

// scanIndexEntries rebuilds index entries for a bucket this process
// didn't just finish writing (the merge-dedup cache-hit path in
// GetBucket), by re-reading the file and recording each record's
// pre-read offset directly from the low-level reader.
func scanIndexEntries(path string) ([]indexEntry, error) {
	r, err := bucketfile.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entries []indexEntry
	for {
		offset := r.Offset()
		rec, err := r.Next()
		if err != nil {
			break
		}
		if rec.Kind == bucketfile.KindMeta {
			continue
		}
		k, err := keyFromRecord(rec)
		if err != nil {
			return entries, err
		}
		entries = append(entries, indexEntry{Key: k, Offset: offset})
	}
	return entries, nil
}

// keyFromRecord extracts just the Key of a record without paying for a
// full LedgerValue decode, since scanIndexEntries only needs offsets.
func keyFromRecord(rec bucketfile.Record) (Key, error) {
	if rec.Kind == bucketfile.KindDead || rec.Kind == bucketfile.KindInit || rec.Kind == bucketfile.KindLive {
		return keyFromRaw(rec.Key), nil
	}
	return Key{}, dataErrf(rec.Key, 0, nil, "unexpected record kind %d", rec.Kind)
}
