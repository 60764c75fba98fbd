package bucket

import (
	"errors"
	"io"

	"github.com/sanjayhashcash/ledgerbucket/internal/bucketfile"
)

// Cursor is the tiny interface spec.md's DESIGN NOTES call for: truthy,
// advance, peek, plus metadata obtained at open time from the leading
// META record. Both the merge engine's old/new cursors and its shadow
// cursors are Cursors; only the concrete type differs (file-backed here,
// slice-backed in fresh.go's construction path isn't needed since fresh
// buckets have no input cursor, only pre-sorted slices).
type Cursor interface {
	Valid() bool
	Entry() Entry
	Advance() error
	Metadata() Metadata
	Close() error
}

// FileCursor is a forward, restartable scan of a bucket file (spec.md
// §4.2). It does not share file handles across instances: two cursors
// over the same bucket open the file independently, so cursors can be
// handed to concurrent merges/reads safely.
type FileCursor struct {
	path string
	r    *bucketfile.Reader
	meta Metadata
	cur  Entry
	ok   bool
	done bool
}

// OpenCursor opens path, consumes a leading META record if present, and
// positions at the first non-META record.
func OpenCursor(path string) (*FileCursor, error) {
	r, err := bucketfile.Open(path)
	if err != nil {
		return nil, err
	}
	c := &FileCursor{path: path, r: r}
	if err := c.readMetaIfPresent(); err != nil {
		r.Close()
		return nil, err
	}
	if err := c.Advance(); err != nil && !errors.Is(err, io.EOF) {
		r.Close()
		return nil, err
	}
	return c, nil
}

func (c *FileCursor) readMetaIfPresent() error {
	rec, err := c.r.Next()
	if err == io.EOF {
		c.done = true
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Kind != bucketfile.KindMeta {
		// Not a META record: rewind by reopening, since bufio.Reader gives
		// us no cheap way to push one record back.
		c.r.Close()
		r2, err := bucketfile.Open(c.path)
		if err != nil {
			return err
		}
		c.r = r2
		return nil
	}
	m, err := decodeMetadata(rec.Value)
	if err != nil {
		return err
	}
	c.meta = m
	return nil
}

func (c *FileCursor) Metadata() Metadata { return c.meta }

func (c *FileCursor) Valid() bool { return c.ok }

func (c *FileCursor) Entry() Entry {
	if !c.ok {
		panic("bucket: Entry() called on exhausted cursor")
	}
	return c.cur
}

// Advance reads the next record into Entry(). A META record encountered
// here (i.e. anywhere but the very first record) is a malformed-bucket
// fatal condition (spec.md §7).
func (c *FileCursor) Advance() error {
	if c.done {
		c.ok = false
		return io.EOF
	}
	rec, err := c.r.Next()
	if err == io.EOF {
		c.done = true
		c.ok = false
		return io.EOF
	}
	if err != nil {
		return err
	}
	if rec.Kind == bucketfile.KindMeta {
		return dataErrf(rec.Value, 0, nil, "malformed bucket: META mid-stream")
	}
	e, err := decodeRecord(rec)
	if err != nil {
		return err
	}
	c.cur = e
	c.ok = true
	return nil
}

func (c *FileCursor) Close() error { return c.r.Close() }

func decodeRecord(rec bucketfile.Record) (Entry, error) {
	switch rec.Kind {
	case bucketfile.KindDead:
		return DeadEntry(keyFromRaw(rec.Key)), nil
	case bucketfile.KindInit, bucketfile.KindLive:
		v, err := decodeValue(rec.Value)
		if err != nil {
			return Entry{}, err
		}
		k := keyFromRaw(rec.Key)
		if rec.Kind == bucketfile.KindInit {
			return InitEntry(k, v), nil
		}
		return LiveEntry(k, v), nil
	default:
		return Entry{}, dataErrf(rec.Key, 0, nil, "unknown record kind %d", rec.Kind)
	}
}

func encodeRecord(e Entry) bucketfile.Record {
	switch e.Kind {
	case EntryMeta:
		return bucketfile.Record{Kind: bucketfile.KindMeta, Value: encodeMetadata(nil, e.Meta)}
	case EntryDead:
		return bucketfile.Record{Kind: bucketfile.KindDead, Key: e.Key.Raw}
	case EntryInit:
		return bucketfile.Record{Kind: bucketfile.KindInit, Key: e.Key.Raw, Value: encodeValue(nil, e.Value)}
	case EntryLive:
		return bucketfile.Record{Kind: bucketfile.KindLive, Key: e.Key.Raw, Value: encodeValue(nil, e.Value)}
	default:
		panic("bucket: unknown entry kind")
	}
}
