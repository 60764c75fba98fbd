package bucket

import bolt "go.etcd.io/bbolt"

// ManagerStats reports the bbolt-backed manager's registry sizes,
// adapted from this codebase's original per-table bucket accounting
// (TableStats): there, leaf/branch sizes were read per table+index
// bucket; here there are exactly two persistent buckets, hash adoption
// and merge dedup.
type ManagerStats struct {
	AdoptedHashes int
	AdoptedBytes  int

	MemoizedMerges int
	MemoizedBytes  int
}

func (ms *ManagerStats) TotalRows() int {
	return ms.AdoptedHashes + ms.MemoizedMerges
}

func (ms *ManagerStats) TotalBytes() int {
	return ms.AdoptedBytes + ms.MemoizedBytes
}

// Stats reads bbolt's built-in per-bucket accounting the same way the
// original per-table accounting walked a db/tbl/index hierarchy.
func (m *BoltManager) Stats() (ManagerStats, error) {
	var ms ManagerStats
	err := m.db.View(func(tx *bolt.Tx) error {
		hashes := nonNil(tx.Bucket(hashesBucketName))
		hs := hashes.Stats()
		ms.AdoptedHashes = hs.KeyN
		ms.AdoptedBytes = hs.LeafInuse

		merges := nonNil(tx.Bucket(mergesBucketName))
		ms2 := merges.Stats()
		ms.MemoizedMerges = ms2.KeyN
		ms.MemoizedBytes = ms2.LeafInuse
		return nil
	})
	return ms, err
}

// IndexStats mirrors BloomFalsePositives with a richer view for callers
// that want a single value to log, matching the terse accessor pattern
// of this codebase's loggable helpers.
type IndexStats struct {
	Entries             int
	BloomFalsePositives uint64
}

func (ix *Index) Stats() IndexStats {
	return IndexStats{
		Entries:             len(ix.entries),
		BloomFalsePositives: ix.BloomFalsePositives(),
	}
}
