// Package bucketfile implements the on-disk framing of a bucket file: a
// sequence of length-prefixed, checksummed records with no segment
// rotation (a bucket, unlike a WAL, is written exactly once and never
// appended to again).
//
// Adapted from this codebase's journal package: the per-record xxhash
// checksum and the "write to a temp name, delete on any failure before
// the caller commits" discipline both come from there. What's dropped is
// everything journal.go has to do a WAL-like journal doesn't: segment
// rotation, multi-file sequencing, and resumable writers opened against
// an existing directory of segments. A bucket file is written once,
// start to finish, by a single Writer.
package bucketfile

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/sanjayhashcash/ledgerbucket/mmap"
)

// Record kinds. These mirror bucket.EntryKind's four variants but are
// defined here, independently, so this package stays free of a dependency
// on the record model it merely frames.
const (
	KindInit byte = iota
	KindLive
	KindDead
	KindMeta
)

var (
	ErrCorruptRecord = errors.New("bucketfile: corrupt record (checksum mismatch)")
	ErrTruncated     = errors.New("bucketfile: truncated record")
)

// Record is one framed record: Key/Value are already-encoded byte blobs:
// the caller (the bucket package) is responsible for interpreting them.
// DEAD records carry a Key and no Value; META records carry a Value
// (the encoded Metadata) and no Key.
type Record struct {
	Kind  byte
	Key   []byte
	Value []byte
}

const maxHeaderLen = 1 + binary.MaxVarintLen64*2

func appendRecordHeader(b []byte, kind byte, keyLen, valLen int) []byte {
	b = append(b, kind)
	b = binary.AppendUvarint(b, uint64(keyLen))
	b = binary.AppendUvarint(b, uint64(valLen))
	return b
}

// Writer streams records to a single temp file, folding every byte into
// both a per-record xxhash (corruption detection on read-back) and a
// whole-file sha256 (the bucket's content-addressed identity).
type Writer struct {
	f      *os.File
	w      *bufio.Writer
	hasher interface {
		Write(p []byte) (int, error)
		Sum(b []byte) []byte
	}
	size   int64
	closed bool
}

func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o666)
	if err != nil {
		return nil, err
	}
	return &Writer{
		f:      f,
		w:      bufio.NewWriterSize(f, 64*1024),
		hasher: sha256.New(),
	}, nil
}

func (bw *Writer) Name() string { return bw.f.Name() }

func (bw *Writer) Size() int64 { return bw.size }

func (bw *Writer) write(p []byte) error {
	if _, err := bw.w.Write(p); err != nil {
		return err
	}
	if _, err := bw.hasher.Write(p); err != nil {
		return err
	}
	bw.size += int64(len(p))
	return nil
}

// WriteRecord appends one record, returning the byte offset it was
// written at (what the index will store for this record's key).
func (bw *Writer) WriteRecord(r Record) (offset int64, err error) {
	offset = bw.size

	var hbuf [maxHeaderLen]byte
	header := appendRecordHeader(hbuf[:0], r.Kind, len(r.Key), len(r.Value))

	var cksum xxhash.Digest
	cksum.Reset()
	cksum.Write(header)
	cksum.Write(r.Key)
	cksum.Write(r.Value)

	if err := bw.write(header); err != nil {
		return offset, err
	}
	if len(r.Key) > 0 {
		if err := bw.write(r.Key); err != nil {
			return offset, err
		}
	}
	if len(r.Value) > 0 {
		if err := bw.write(r.Value); err != nil {
			return offset, err
		}
	}
	var csum [8]byte
	binary.BigEndian.PutUint64(csum[:], cksum.Sum64())
	if err := bw.write(csum[:]); err != nil {
		return offset, err
	}
	return offset, nil
}

// ContentHash returns the sha256 digest of every byte written so far.
func (bw *Writer) ContentHash() [32]byte {
	var out [32]byte
	copy(out[:], bw.hasher.Sum(nil))
	return out
}

func (bw *Writer) Flush() error {
	return bw.w.Flush()
}

// Sync flushes buffered data and durably syncs the underlying file via
// fdatasync (skipping the metadata sync plain fsync would also pay for),
// the output builder's durability step before handing the file to the
// manager.
func (bw *Writer) Sync() error {
	if err := bw.Flush(); err != nil {
		return err
	}
	return mmap.Fdatasync(bw.f, nil)
}

func (bw *Writer) Close() error {
	if bw.closed {
		return nil
	}
	bw.closed = true
	if err := bw.w.Flush(); err != nil {
		bw.f.Close()
		return err
	}
	return bw.f.Close()
}

// Abort closes and removes the file; used when a merge or fresh build
// fails before GetBucket's commit point, so the partial temp file is not
// left littering the temp directory.
func (bw *Writer) Abort() error {
	bw.closed = true
	bw.f.Close()
	return os.Remove(bw.f.Name())
}

// Reader sequentially scans a bucket file from the start, the backing
// primitive for the package's input cursor.
type Reader struct {
	f      *os.File
	r      *bufio.Reader
	offset int64
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{f: f, r: bufio.NewReaderSize(f, 64*1024)}, nil
}

func (br *Reader) Offset() int64 { return br.offset }

func (br *Reader) Close() error { return br.f.Close() }

// Next reads the next record, returning io.EOF when the file is exhausted.
func (br *Reader) Next() (Record, error) {
	return readRecord(br.r, &br.offset)
}

func readRecord(r io.Reader, offset *int64) (Record, error) {
	kind, err := readByte(r)
	if err != nil {
		return Record{}, err
	}
	keyLen, err := binary.ReadUvarint(byteReader{r})
	if err != nil {
		return Record{}, fmt.Errorf("%w: key length: %v", ErrTruncated, err)
	}
	valLen, err := binary.ReadUvarint(byteReader{r})
	if err != nil {
		return Record{}, fmt.Errorf("%w: value length: %v", ErrTruncated, err)
	}

	var hbuf [maxHeaderLen]byte
	header := appendRecordHeader(hbuf[:0], kind, int(keyLen), int(valLen))

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return Record{}, fmt.Errorf("%w: key body: %v", ErrTruncated, err)
	}
	val := make([]byte, valLen)
	if _, err := io.ReadFull(r, val); err != nil {
		return Record{}, fmt.Errorf("%w: value body: %v", ErrTruncated, err)
	}

	var csum [8]byte
	if _, err := io.ReadFull(r, csum[:]); err != nil {
		return Record{}, fmt.Errorf("%w: checksum: %v", ErrTruncated, err)
	}

	var cksum xxhash.Digest
	cksum.Reset()
	cksum.Write(header)
	cksum.Write(key)
	cksum.Write(val)
	if binary.BigEndian.Uint64(csum[:]) != cksum.Sum64() {
		return Record{}, ErrCorruptRecord
	}

	if offset != nil {
		*offset += int64(len(header)) + int64(keyLen) + int64(valLen) + 8
	}

	return Record{Kind: kind, Key: key, Value: val}, nil
}

func readByte(r io.Reader) (byte, error) {
	if br, ok := r.(*bufio.Reader); ok {
		return br.ReadByte()
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// byteReader adapts an io.Reader to io.ByteReader for binary.ReadUvarint
// when the underlying reader isn't already one.
type byteReader struct{ io.Reader }

func (b byteReader) ReadByte() (byte, error) {
	return readByte(b.Reader)
}

// ReadOne decodes exactly one record from r with no offset tracking, for
// callers (the index's mmap-backed page reader) that already have the
// page bytes in memory and just need records parsed out of them.
func ReadOne(r io.Reader) (Record, error) {
	return readRecord(r, nil)
}

// ReadRecordAt decodes exactly one record starting at byte offset off in
// f, for the index's pageSize==0 point-lookup path (spec.md §4.4).
func ReadRecordAt(f *os.File, off int64) (Record, error) {
	sr := io.NewSectionReader(f, off, maxSectionLen-off)
	rec, err := readRecord(bufio.NewReader(sr), nil)
	return rec, err
}

// maxSectionLen is the largest representable section length; sections are
// clamped to the actual file size by the OS returning io.EOF/ErrUnexpectedEOF
// past end-of-file, same as any bounded ReaderAt.
const maxSectionLen = 1<<63 - 1

// ReadPage decodes every record whose framing starts within
// [pageStart, pageStart+pageSize) from f, for the index's page-read path
// when pageSize != 0 (spec.md §3).
func ReadPage(f *os.File, pageStart int64, pageSize int) ([]Record, error) {
	sr := io.NewSectionReader(f, pageStart, int64(pageSize))
	r := bufio.NewReader(sr)
	var recs []Record
	var off int64
	for {
		rec, err := readRecord(r, &off)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, ErrTruncated) {
				break
			}
			return recs, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
