package bucket

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// MergeCounters is the external collaborator's metric surface for one
// completed merge (spec.md §6's incrMergeCounters(mc)).
type MergeCounters struct {
	EntriesOld, EntriesNew, EntriesOut uint64
	BytesOut                           int64
	ShadowCount                        int
}

// MergeTimer records the wall-clock duration of a merge's two-way loop,
// the minimal collaborator contract implied by spec.md §6's
// getMergeTimer() without inventing a concrete metrics backend.
type MergeTimer interface {
	Observe(d time.Duration)
}

// BucketManager is the external owner of the temp directory, merge
// counters, shutdown flag, and adopt/dedup policy (spec.md §6).
type BucketManager interface {
	GetTmpDir() string
	// TempBucketPath picks a fresh, collision-checked name under the temp
	// dir for one in-progress output file (spec.md §6's
	// "<tmpDir>/tmp-bucket-<16-hex>.xdr" convention).
	TempBucketPath() string
	IncrMergeCounters(mc MergeCounters)
	IsShutdown() bool
	GetMergeTimer() MergeTimer

	// Adopt registers a finished output file under its canonical,
	// hash-derived name. If a bucket with this hash is already known, the
	// temp file at tmpPath is removed and the existing canonical path is
	// returned with adopted=false; otherwise tmpPath is renamed to the
	// canonical path and adopted=true.
	Adopt(hash Hash, tmpPath string, size int64) (canonicalPath string, adopted bool, err error)

	// LookupMerge returns the canonical path of a previously completed
	// merge with this MergeKey, for in-flight dedup (spec.md §4.3, §5).
	LookupMerge(key MergeKey) (path string, hash Hash, ok bool)

	// RecordMerge remembers that key produced the bucket at hash/path.
	RecordMerge(key MergeKey, hash Hash, path string) error
}

// MergeKey uniquely identifies a merge for deduplication (spec.md
// glossary): the tuple (keepDeadEntries, old, new, shadows).
type MergeKey struct {
	KeepDeadEntries bool
	Old, New        Hash
	Shadows         []Hash
}

func (mk MergeKey) cacheKey() string {
	s := fmt.Sprintf("%v|%s|%s", mk.KeepDeadEntries, mk.Old, mk.New)
	for _, h := range mk.Shadows {
		s += "|" + h.String()
	}
	return s
}

// noopMergeTimer discards observations; used when a manager is built
// without a timer collaborator wired in.
type noopMergeTimer struct{}

func (noopMergeTimer) Observe(time.Duration) {}

// BoltManager is the bbolt-backed BucketManager (SPEC_FULL.md §11):
// a single small database holding a "hashes" bucket (hash-derived
// canonical filename adoption registry) and a "merges" bucket (MergeKey
// dedup), repurposing the teacher's embedded-storage dependency for the
// one concern this engine needs durable across restarts.
type BoltManager struct {
	tmpDir string
	db     *bolt.DB
	timer  MergeTimer
	logger *slog.Logger

	shutdown atomic.Bool
	mu       sync.Mutex
	counters MergeCounters
}

var (
	hashesBucketName = []byte("hashes")
	mergesBucketName = []byte("merges")
)

// OpenBoltManager opens (creating if absent) a manager database at
// dbPath, with a temp directory at tmpDir for in-progress output files.
func OpenBoltManager(dbPath, tmpDir string, timer MergeTimer, logger *slog.Logger) (*BoltManager, error) {
	if timer == nil {
		timer = noopMergeTimer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(tmpDir, 0o777); err != nil {
		return nil, err
	}
	db, err := bolt.Open(dbPath, 0o666, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(hashesBucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(mergesBucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltManager{tmpDir: tmpDir, db: db, timer: timer, logger: logger}, nil
}

func (m *BoltManager) Close() error { return m.db.Close() }

func (m *BoltManager) GetTmpDir() string { return m.tmpDir }

// TempBucketPath picks a fresh name under the temp dir from the first 8
// bytes of a random UUID (SPEC_FULL.md §11), matching the
// "<tmpDir>/tmp-bucket-<16-hex>.xdr" convention of spec.md §6, and draws
// again while a file of that name already exists.
func (m *BoltManager) TempBucketPath() string {
	for {
		u := uuid.New()
		p := filepath.Join(m.tmpDir, "tmp-bucket-"+hex.EncodeToString(u[:8])+".xdr")
		if _, err := os.Stat(p); err != nil {
			return p
		}
	}
}

func (m *BoltManager) IncrMergeCounters(mc MergeCounters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.EntriesOld += mc.EntriesOld
	m.counters.EntriesNew += mc.EntriesNew
	m.counters.EntriesOut += mc.EntriesOut
	m.counters.BytesOut += mc.BytesOut
	if mc.ShadowCount > m.counters.ShadowCount {
		m.counters.ShadowCount = mc.ShadowCount
	}
}

func (m *BoltManager) Counters() MergeCounters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

func (m *BoltManager) IsShutdown() bool { return m.shutdown.Load() }

// Shutdown sets the cooperative-cancellation flag polled by the merge
// loop every ~1000 iterations (spec.md §5).
func (m *BoltManager) Shutdown() { m.shutdown.Store(true) }

func (m *BoltManager) GetMergeTimer() MergeTimer { return m.timer }

func (m *BoltManager) Adopt(hash Hash, tmpPath string, size int64) (string, bool, error) {
	var canonical string
	var adopted bool
	err := m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(hashesBucketName)
		if existing := b.Get(hash[:]); existing != nil {
			canonical = string(existing)
			return nil
		}
		canonical = filepath.Join(filepath.Dir(m.tmpDir), hash.String()+".xdr")
		if err := os.Rename(tmpPath, canonical); err != nil {
			return err
		}
		adopted = true
		return b.Put(hash[:], []byte(canonical))
	})
	if err != nil {
		return "", false, err
	}
	if !adopted {
		m.logger.Debug("bucket: discarding duplicate-hash temp file", hexAttr("hash", hash[:]), slog.String("tmp", tmpPath))
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return canonical, false, rmErr
		}
	}
	return canonical, adopted, nil
}

func (m *BoltManager) LookupMerge(key MergeKey) (string, Hash, bool) {
	var path string
	var hash Hash
	var ok bool
	_ = m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(mergesBucketName)
		v := b.Get([]byte(key.cacheKey()))
		if v == nil || len(v) < 32 {
			return nil
		}
		copy(hash[:], v[:32])
		path = string(v[32:])
		ok = true
		return nil
	})
	return path, hash, ok
}

func (m *BoltManager) RecordMerge(key MergeKey, hash Hash, path string) error {
	v := append(append([]byte{}, hash[:]...), []byte(path)...)
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(mergesBucketName).Put([]byte(key.cacheKey()), v)
	})
}
