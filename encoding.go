package bucket

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeValue msgpack-encodes a LedgerValue payload, using the pooled
// encoder the same way this codebase's generic row encoder did: borrow
// from msgpack's package-level pool, write into a growable buffer, return
// it to the pool. Sorted map keys keep the encoding of the opaque Data
// field deterministic, which matters because it feeds the bucket's
// content hash.
func encodeValue(buf []byte, v LedgerValue) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.ResetDict(&bb, nil)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(dataErrf(buf, len(buf), err, "failed to encode LedgerValue"))
	}
	return bb.Buf
}

func decodeValue(raw []byte) (LedgerValue, error) {
	var v LedgerValue
	var r bytes.Reader
	r.Reset(raw)
	dec := msgpack.GetDecoder()
	dec.ResetDict(&r, nil)
	err := dec.Decode(&v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return LedgerValue{}, dataErrf(raw, 0, err, "failed to decode LedgerValue")
	}
	return v, nil
}

func encodeMetadata(buf []byte, m Metadata) []byte {
	return appendUvarint(buf, uint64(m.LedgerVersion))
}

func decodeMetadata(raw []byte) (Metadata, error) {
	d := makeByteDecoder(raw)
	v, err := d.Uvarint()
	if err != nil {
		return Metadata{}, dataErrf(raw, d.Off(), err, "failed to decode Metadata")
	}
	return Metadata{LedgerVersion: uint32(v)}, nil
}
