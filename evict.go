package bucket

import (
	"errors"
	"io"
	"log/slog"

	"github.com/sanjayhashcash/ledgerbucket/internal/bucketfile"
)

// EvictionIterator is the caller-held, resumable position of spec.md
// §4.6: a byte offset into a bucket's eviction stream, distinct from
// the index stream so the two can be read concurrently by different
// goroutines against the same immutable Bucket.
type EvictionIterator struct {
	BucketFileOffset int64
}

// EvictionMetrics accumulates the per-run statistics spec.md §4.6
// mentions in passing ("update per-run metrics: count and age sum"),
// named concretely per SPEC_FULL.md §12.
type EvictionMetrics struct {
	EvictedCount uint64
	AgeSum       uint64 // sum of (ledgerSeq - liveUntilLedgerSeq) over evicted entries
}

// ScanForEviction implements spec.md §4.6's contract. It returns false
// when the bucket's eviction stream is exhausted (caller moves to the
// next, older bucket) or when the bucket is empty or pre-SOROBAN (no
// temporary entries are possible at that protocol, so there is nothing
// to scan). It returns true when a budget is exhausted mid-bucket,
// having advanced iter.BucketFileOffset to resume from next time.
func ScanForEviction(
	ltx LedgerTxn,
	iter *EvictionIterator,
	bytesToScan *int64,
	remainingEntriesToEvict *int64,
	ledgerSeq uint32,
	b Bucket,
	metrics *EvictionMetrics,
	logger *slog.Logger,
) (bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if b.IsEmpty() {
		return false, nil
	}

	r, err := bucketfile.Open(b.Path)
	if err != nil {
		return false, err
	}
	defer r.Close()

	protocol, err := readBucketProtocolVersion(r)
	if err != nil {
		return false, err
	}
	if protocol < SorobanProtocolVersion {
		return false, nil
	}

	if err := seekReaderTo(r, iter.BucketFileOffset); err != nil {
		return false, err
	}

	for {
		if *bytesToScan <= 0 || *remainingEntriesToEvict <= 0 {
			return true, nil
		}

		offsetBefore := r.Offset()
		rec, err := r.Next()
		if err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		consumed := r.Offset() - offsetBefore
		*bytesToScan -= consumed
		iter.BucketFileOffset = r.Offset()

		if rec.Kind == bucketfile.KindMeta {
			return false, errors.New("bucket: malformed bucket: META mid-stream during eviction scan")
		}
		if rec.Kind == bucketfile.KindDead {
			continue
		}

		e, err := decodeRecord(rec)
		if err != nil {
			return false, err
		}
		if !e.IsTemporary() {
			continue
		}

		primary, primaryOK, err := ltx.LoadWithoutRecord(e.Key)
		if err != nil {
			return false, err
		}
		ttl, ttlOK, err := ltx.LoadWithoutRecord(e.Key.TTLKey())
		if err != nil {
			return false, err
		}
		if !primaryOK {
			// Already evicted by a prior pass; the TTL entry must also be
			// gone, per spec.md §4.6.
			continue
		}
		if !ttlOK || ttl.Value.LiveUntilLedgerSeq >= ledgerSeq {
			continue
		}

		if err := ltx.Erase(e.Key.TTLKey()); err != nil {
			return false, err
		}
		if err := ltx.Erase(e.Key); err != nil {
			return false, err
		}
		*remainingEntriesToEvict--
		if metrics != nil {
			metrics.EvictedCount++
			metrics.AgeSum += uint64(ledgerSeq - ttl.Value.LiveUntilLedgerSeq)
		}
		logger.Debug("bucket: evicted temporary entry", hexAttr("key", e.Key.Raw), slog.Int("ledger_seq", int(ledgerSeq)))

		_ = primary // primary entry's value is not otherwise needed once erased
	}
}

func readBucketProtocolVersion(r *bucketfile.Reader) (uint32, error) {
	rec, err := r.Next()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if rec.Kind != bucketfile.KindMeta {
		return 0, errors.New("bucket: malformed bucket: missing leading META")
	}
	m, err := decodeMetadata(rec.Value)
	if err != nil {
		return 0, err
	}
	return m.LedgerVersion, nil
}

// seekReaderTo discards records from the start of r until its offset
// reaches target, resuming an eviction scan from a prior call's
// iter.BucketFileOffset. r has already consumed the leading META by the
// time this is called, so target==0 is a no-op (the natural starting
// point right after META).
func seekReaderTo(r *bucketfile.Reader, target int64) error {
	for r.Offset() < target {
		if _, err := r.Next(); err != nil {
			return err
		}
	}
	return nil
}
