package bucket

import "testing"

// TestNewFreshBucket_SortsAndInterleaves covers the fresh-bucket scenario:
// init=[a,c], live=[b], dead=[d] at a protocol supporting INIT must emit
// INIT(a), LIVE(b), INIT(c), DEAD(d) in that order.
func TestNewFreshBucket_SortsAndInterleaves(t *testing.T) {
	mgr := newFakeManager(t.TempDir())
	b, err := NewFreshBucket(
		[]Entry{InitEntry(key("a"), LedgerValue{}), InitEntry(key("c"), LedgerValue{})},
		[]Entry{LiveEntry(key("b"), LedgerValue{})},
		[]Entry{DeadEntry(key("d"))},
		mgr,
		FreshOptions{Config: DefaultConfig(), ProtocolVersion: FirstProtocolSupportingInitEntryAndMetaEntry, UseIndex: true},
	)
	if err != nil {
		t.Fatalf("NewFreshBucket: %v", err)
	}

	c, err := OpenCursor(b.Path)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()

	type got struct {
		kind EntryKind
		k    string
	}
	var seq []got
	for c.Valid() {
		seq = append(seq, got{c.Entry().Kind, string(c.Entry().Key.Raw)})
		if err := c.Advance(); err != nil {
			break
		}
	}
	want := []got{
		{EntryInit, "a"},
		{EntryLive, "b"},
		{EntryInit, "c"},
		{EntryDead, "d"},
	}
	if len(seq) != len(want) {
		t.Fatalf("got %v, wanted %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("seq[%d] = %+v, wanted %+v", i, seq[i], want[i])
		}
	}
}

// TestNewFreshBucket_CollapsesInitBelowProtocol checks that below the
// protocol supporting INIT/META, init entries are written as LIVE instead.
func TestNewFreshBucket_CollapsesInitBelowProtocol(t *testing.T) {
	mgr := newFakeManager(t.TempDir())
	b, err := NewFreshBucket(
		[]Entry{InitEntry(key("a"), LedgerValue{AccountID: "a"})},
		nil, nil,
		mgr,
		FreshOptions{Config: DefaultConfig(), ProtocolVersion: FirstProtocolSupportingInitEntryAndMetaEntry - 1, UseIndex: true},
	)
	if err != nil {
		t.Fatalf("NewFreshBucket: %v", err)
	}
	c, err := OpenCursor(b.Path)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()
	if !c.Valid() {
		t.Fatalf("Valid() = false, wanted one collapsed entry")
	}
	if c.Entry().Kind != EntryLive {
		t.Fatalf("Entry().Kind = %v, wanted LIVE (INIT collapses below the protocol threshold)", c.Entry().Kind)
	}
}

func TestNewFreshBucket_DuplicateKeyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("NewFreshBucket did not panic on an adjacent equal-keyed pair")
		}
	}()
	mgr := newFakeManager(t.TempDir())
	_, _ = NewFreshBucket(
		[]Entry{InitEntry(key("a"), LedgerValue{})},
		nil,
		[]Entry{DeadEntry(key("a"))},
		mgr,
		FreshOptions{Config: DefaultConfig(), ProtocolVersion: FirstProtocolSupportingInitEntryAndMetaEntry, UseIndex: false},
	)
}

func TestNewFreshBucket_EmptyYieldsEmptyBucket(t *testing.T) {
	mgr := newFakeManager(t.TempDir())
	b, err := NewFreshBucket(nil, nil, nil, mgr, FreshOptions{Config: DefaultConfig(), ProtocolVersion: FirstProtocolSupportingInitEntryAndMetaEntry})
	if err != nil {
		t.Fatalf("NewFreshBucket: %v", err)
	}
	if !b.IsEmpty() {
		t.Fatalf("b.IsEmpty() = false, wanted true for zero entries")
	}
}
