package bucket

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// fakeManager is a minimal in-memory BucketManager for tests that don't
// need bbolt's durability, matching the teacher's own preference for
// hand-rolled in-memory fakes over mocking frameworks (its deleted
// storage_mem.go played the same role for table storage).
type fakeManager struct {
	tmpDir string
	seq    atomic.Uint64

	mu      sync.Mutex
	hashes  map[Hash]string
	merges  map[string][2]any // cacheKey -> [Hash, path]
	down    bool
	counter MergeCounters
}

func newFakeManager(tmpDir string) *fakeManager {
	return &fakeManager{tmpDir: tmpDir, hashes: map[Hash]string{}, merges: map[string][2]any{}}
}

func (m *fakeManager) GetTmpDir() string { return m.tmpDir }

func (m *fakeManager) TempBucketPath() string {
	n := m.seq.Add(1)
	return filepath.Join(m.tmpDir, "tmp-bucket-"+itoa(n)+".xdr")
}

func (m *fakeManager) IncrMergeCounters(mc MergeCounters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter.EntriesOld += mc.EntriesOld
	m.counter.EntriesNew += mc.EntriesNew
	m.counter.EntriesOut += mc.EntriesOut
	m.counter.BytesOut += mc.BytesOut
}

func (m *fakeManager) IsShutdown() bool { return m.down }

func (m *fakeManager) GetMergeTimer() MergeTimer { return noopMergeTimer{} }

func (m *fakeManager) Adopt(hash Hash, tmpPath string, size int64) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.hashes[hash]; ok {
		os.Remove(tmpPath)
		return existing, false, nil
	}
	canonical := filepath.Join(m.tmpDir, hash.String()+".xdr")
	if err := os.Rename(tmpPath, canonical); err != nil {
		return "", false, err
	}
	m.hashes[hash] = canonical
	return canonical, true, nil
}

func (m *fakeManager) LookupMerge(key MergeKey) (string, Hash, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.merges[key.cacheKey()]
	if !ok {
		return "", Hash{}, false
	}
	return v[1].(string), v[0].(Hash), true
}

func (m *fakeManager) RecordMerge(key MergeKey, hash Hash, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merges[key.cacheKey()] = [2]any{hash, path}
	return nil
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
