package bucket

import "testing"

func TestOutputBuilder_OrderingRegressionPanics(t *testing.T) {
	mgr := newFakeManager(t.TempDir())
	ob, err := NewOutputBuilder(DefaultConfig(), mgr, false, true, nil)
	if err != nil {
		t.Fatalf("NewOutputBuilder: %v", err)
	}
	if err := ob.Put(LiveEntry(key("b"), LedgerValue{})); err != nil {
		t.Fatalf("Put: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("Put did not panic on an ordering regression")
		}
	}()
	_ = ob.Put(LiveEntry(key("a"), LedgerValue{}))
}

func TestOutputBuilder_DuplicateKeyPanics(t *testing.T) {
	mgr := newFakeManager(t.TempDir())
	ob, err := NewOutputBuilder(DefaultConfig(), mgr, false, true, nil)
	if err != nil {
		t.Fatalf("NewOutputBuilder: %v", err)
	}
	if err := ob.Put(LiveEntry(key("a"), LedgerValue{})); err != nil {
		t.Fatalf("Put: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("Put did not panic on a duplicate key")
		}
	}()
	_ = ob.Put(DeadEntry(key("a")))
}

func TestOutputBuilder_OldestLevelElidesDead(t *testing.T) {
	mgr := newFakeManager(t.TempDir())
	ob, err := NewOutputBuilder(DefaultConfig(), mgr, true, false, nil)
	if err != nil {
		t.Fatalf("NewOutputBuilder: %v", err)
	}
	for _, e := range []Entry{
		LiveEntry(key("a"), LedgerValue{}),
		DeadEntry(key("b")),
		LiveEntry(key("c"), LedgerValue{}),
	} {
		if err := ob.Put(e); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	b, err := ob.GetBucket(true, nil)
	if err != nil {
		t.Fatalf("GetBucket: %v", err)
	}
	c, err := OpenCursor(b.Path)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()
	var keys []string
	for c.Valid() {
		keys = append(keys, string(c.Entry().Key.Raw))
		if err := c.Advance(); err != nil {
			break
		}
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Fatalf("keys = %v, wanted [a c] (b elided as an oldest-level tombstone)", keys)
	}
}

func TestOutputBuilder_OldestLevelKeepsDeadWhenRequested(t *testing.T) {
	mgr := newFakeManager(t.TempDir())
	ob, err := NewOutputBuilder(DefaultConfig(), mgr, true, true, nil)
	if err != nil {
		t.Fatalf("NewOutputBuilder: %v", err)
	}
	if err := ob.Put(DeadEntry(key("b"))); err != nil {
		t.Fatalf("Put: %v", err)
	}
	b, err := ob.GetBucket(true, nil)
	if err != nil {
		t.Fatalf("GetBucket: %v", err)
	}
	if b.IsEmpty() {
		t.Fatalf("b.IsEmpty() = true, wanted the kept DEAD record")
	}
}

func TestOutputBuilder_GetBucket_EmptyWhenNoEntries(t *testing.T) {
	mgr := newFakeManager(t.TempDir())
	ob, err := NewOutputBuilder(DefaultConfig(), mgr, false, true, nil)
	if err != nil {
		t.Fatalf("NewOutputBuilder: %v", err)
	}
	b, err := ob.GetBucket(true, nil)
	if err != nil {
		t.Fatalf("GetBucket: %v", err)
	}
	if !b.IsEmpty() {
		t.Fatalf("b.IsEmpty() = false, wanted true for a builder with zero Puts")
	}
}

func TestOutputBuilder_GetBucket_MergeKeyDedup(t *testing.T) {
	mgr := newFakeManager(t.TempDir())
	mk := MergeKey{Old: Hash{1}, New: Hash{2}}

	ob1, err := NewOutputBuilder(DefaultConfig(), mgr, false, true, nil)
	if err != nil {
		t.Fatalf("NewOutputBuilder: %v", err)
	}
	if err := ob1.Put(LiveEntry(key("a"), LedgerValue{})); err != nil {
		t.Fatalf("Put: %v", err)
	}
	first, err := ob1.GetBucket(true, &mk)
	if err != nil {
		t.Fatalf("GetBucket: %v", err)
	}

	// A second builder producing the same MergeKey must short-circuit to
	// the cached bucket without publishing a second file.
	ob2, err := NewOutputBuilder(DefaultConfig(), mgr, false, true, nil)
	if err != nil {
		t.Fatalf("NewOutputBuilder: %v", err)
	}
	if err := ob2.Put(LiveEntry(key("z"), LedgerValue{})); err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := ob2.GetBucket(true, &mk)
	if err != nil {
		t.Fatalf("GetBucket: %v", err)
	}
	if second.Path != first.Path || second.Hash != first.Hash {
		t.Fatalf("second bucket = %+v, wanted the cached first bucket %+v", second, first)
	}
	if second.Index == nil {
		t.Fatalf("second.Index = nil, wanted a rebuilt index for the cache-hit path")
	}
	// The cache-hit bucket's index is rebuilt from the file on disk, not
	// ob2's own entries, so it must resolve ob1's key, not ob2's.
	if _, ok := second.Index.Lookup(key("a")); !ok {
		t.Fatalf("second.Index.Lookup(a) = false, wanted true (rebuilt from the cached file)")
	}
}
