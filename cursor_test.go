package bucket

import (
	"errors"
	"io"
	"testing"

	"github.com/sanjayhashcash/ledgerbucket/internal/bucketfile"
)

func buildTestBucket(t *testing.T, mgr *fakeManager, protocol uint32, entries []Entry) Bucket {
	t.Helper()
	ob, err := NewOutputBuilder(DefaultConfig(), mgr, false, true, nil)
	if err != nil {
		t.Fatalf("NewOutputBuilder: %v", err)
	}
	if err := ob.PutMeta(Metadata{LedgerVersion: protocol}); err != nil {
		t.Fatalf("PutMeta: %v", err)
	}
	for _, e := range entries {
		if err := ob.Put(e); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	b, err := ob.GetBucket(true, nil)
	if err != nil {
		t.Fatalf("GetBucket: %v", err)
	}
	return b
}

func TestFileCursor_ScanAndMetadata(t *testing.T) {
	mgr := newFakeManager(t.TempDir())
	b := buildTestBucket(t, mgr, 11, []Entry{
		LiveEntry(key("a"), LedgerValue{AccountID: "a"}),
		DeadEntry(key("b")),
		InitEntry(key("c"), LedgerValue{AccountID: "c"}),
	})

	c, err := OpenCursor(b.Path)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()

	if c.Metadata().LedgerVersion != 11 {
		t.Fatalf("Metadata().LedgerVersion = %d, wanted 11", c.Metadata().LedgerVersion)
	}

	var got []EntryKind
	for c.Valid() {
		got = append(got, c.Entry().Kind)
		if err := c.Advance(); err != nil && !errors.Is(err, io.EOF) {
			t.Fatalf("Advance: %v", err)
		}
	}
	want := []EntryKind{EntryLive, EntryDead, EntryInit}
	if len(got) != len(want) {
		t.Fatalf("got %v, wanted %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %v, wanted %v", i, got[i], want[i])
		}
	}
}

func TestFileCursor_NoLeadingMeta(t *testing.T) {
	// A bucket file with no META record (the empty-metadata, pre-fresh
	// style some callers may hand-build) must still scan correctly.
	tmp := t.TempDir() + "/no-meta.xdr"
	w, err := bucketfile.Create(tmp)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.WriteRecord(encodeRecord(LiveEntry(key("z"), LedgerValue{}))); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c, err := OpenCursor(tmp)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()
	if c.Metadata().LedgerVersion != 0 {
		t.Fatalf("Metadata().LedgerVersion = %d, wanted 0 (absent)", c.Metadata().LedgerVersion)
	}
	if !c.Valid() {
		t.Fatalf("Valid() = false, wanted the one LIVE record still reachable")
	}
	if !c.Entry().Key.Equal(key("z")) {
		t.Fatalf("Entry().Key = %x, wanted key(\"z\")", c.Entry().Key.Raw)
	}
}

func TestFileCursor_MidStreamMetaIsFatal(t *testing.T) {
	tmp := t.TempDir() + "/bad-meta.xdr"
	w, err := bucketfile.Create(tmp)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.WriteRecord(encodeRecord(MetaEntry(Metadata{LedgerVersion: 11}))); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if _, err := w.WriteRecord(encodeRecord(LiveEntry(key("a"), LedgerValue{}))); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if _, err := w.WriteRecord(encodeRecord(MetaEntry(Metadata{LedgerVersion: 12}))); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c, err := OpenCursor(tmp)
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()
	if !c.Valid() {
		t.Fatalf("Valid() = false after opening a cursor with one live record ahead")
	}
	if err := c.Advance(); err == nil {
		t.Fatalf("Advance() into a mid-stream META = nil error, wanted a DataError")
	}
}
