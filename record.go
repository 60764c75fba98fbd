package bucket

import (
	"bytes"
	"encoding/hex"
)

// Hash is the sha256 content digest of a bucket file (spec.md invariant 2).
// The zero Hash identifies the empty bucket.
type Hash [32]byte

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns an 8-hex-digit prefix, used in log fields and error messages
// where the full 64-hex digest would be unreadable noise.
func (h Hash) Short() string {
	s := h.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// LedgerEntryType discriminates the kind of ledger object a Key addresses.
// The merge engine and cursor never inspect it; the pool-share
// trustline scan (§4.4) does, and TTLKey sets it to EntryTypeTTL. The
// eviction scanner's "is this temporary" check reads LedgerValue.Temporary,
// not the Type.
type LedgerEntryType uint8

const (
	EntryTypeAccount LedgerEntryType = iota
	EntryTypeTrustline
	EntryTypeOffer
	EntryTypeData
	EntryTypeClaimableBalance
	EntryTypeLiquidityPool
	EntryTypeContractData
	EntryTypeContractCode
	EntryTypeConfigSetting
	EntryTypeTTL
)

// Key is a ledger key: a canonical, already-encoded byte string (Raw) that
// totally orders entries, plus the entry Type it addresses so that callers
// don't need to decode Raw just to tell a trustline key from an offer key.
// Ordering and equality consider Raw only, per spec.md §4.1 ("ordering
// comparator by ledger key only"). By convention Raw's first byte is
// always the Type discriminant, the same way the underlying ledger key
// encoding leads with a type tag; keyFromRaw recovers Type from bytes
// alone when a Key has to be rebuilt from framed record bytes.
type Key struct {
	Type LedgerEntryType
	Raw  []byte
}

func keyFromRaw(raw []byte) Key {
	var t LedgerEntryType
	if len(raw) > 0 {
		t = LedgerEntryType(raw[0])
	}
	return Key{Type: t, Raw: raw}
}

func (k Key) Less(o Key) bool {
	return bytes.Compare(k.Raw, o.Raw) < 0
}

func (k Key) Equal(o Key) bool {
	return bytes.Equal(k.Raw, o.Raw)
}

// TTLKey derives the key of k's sibling TTL entry, used by the eviction
// scanner to look up liveUntilLedgerSeq for a temporary entry. The TTL
// entry's key is a deterministic function of the owning entry's key: here,
// the same Raw bytes under EntryTypeTTL, which keeps the derivation total
// and collision-free without needing a second encoding scheme.
func (k Key) TTLKey() Key {
	raw := make([]byte, len(k.Raw))
	copy(raw, k.Raw)
	return Key{Type: EntryTypeTTL, Raw: raw}
}

// LedgerValue is the opaque payload carried by INIT and LIVE entries.
// The bucket engine does not interpret most of it; only the fields the
// spec's range-scan and eviction operations name are given structure.
type LedgerValue struct {
	AccountID          string         `msgpack:"acc,omitempty"`
	Asset              string         `msgpack:"asset,omitempty"`
	Temporary          bool           `msgpack:"tmp,omitempty"`
	LiveUntilLedgerSeq uint32         `msgpack:"lul,omitempty"`
	Data               map[string]any `msgpack:"data,omitempty"`
}

// PoolKey derives the liquidity-pool key a trustline's Asset belongs to.
// Grounded in spec.md §4.4's "derive the liquidity-pool key from its
// asset": the pool key is deterministic given the asset alone, so this is
// a pure function rather than a lookup.
func (v LedgerValue) PoolKey() Key {
	return Key{Type: EntryTypeLiquidityPool, Raw: []byte("pool:" + v.Asset)}
}

// EntryKind is the tagged-union discriminant of spec.md §3: INIT, LIVE,
// DEAD, META. Ordering ignores Kind entirely except that META always
// sorts before any non-META record (§4.1).
type EntryKind uint8

const (
	EntryInit EntryKind = iota
	EntryLive
	EntryDead
	EntryMeta
)

func (k EntryKind) String() string {
	switch k {
	case EntryInit:
		return "INIT"
	case EntryLive:
		return "LIVE"
	case EntryDead:
		return "DEAD"
	case EntryMeta:
		return "META"
	default:
		return "UNKNOWN"
	}
}

// Metadata is the first record of a non-empty bucket file (§3).
type Metadata struct {
	LedgerVersion uint32
}

// Entry is one record of a bucket: a tagged union over Key+LedgerValue.
// DEAD entries carry only a Key; META entries carry only a Metadata and
// must never be mid-stream or indexed.
type Entry struct {
	Kind  EntryKind
	Key   Key
	Value LedgerValue
	Meta  Metadata
}

func InitEntry(k Key, v LedgerValue) Entry { return Entry{Kind: EntryInit, Key: k, Value: v} }
func LiveEntry(k Key, v LedgerValue) Entry { return Entry{Kind: EntryLive, Key: k, Value: v} }
func DeadEntry(k Key) Entry                { return Entry{Kind: EntryDead, Key: k} }
func MetaEntry(m Metadata) Entry           { return Entry{Kind: EntryMeta, Meta: m} }

// IsTemporary reports whether this entry's payload is a temporary ledger
// entry eligible for eviction (spec.md §4.6).
func (e Entry) IsTemporary() bool {
	return e.Kind != EntryDead && e.Kind != EntryMeta && e.Value.Temporary
}

// IsTrustline reports whether this entry addresses a trustline, used by
// the pool-share scan (§4.4) to filter the byte-range index returns.
func (e Entry) IsTrustline() bool {
	return e.Key.Type == EntryTypeTrustline
}

// compareEntries implements the comparator of spec.md §4.1: total order
// by ledger key, with META sorting before every non-META record.
func compareEntries(a, b Entry) int {
	aMeta, bMeta := a.Kind == EntryMeta, b.Kind == EntryMeta
	if aMeta != bMeta {
		if aMeta {
			return -1
		}
		return 1
	}
	if aMeta && bMeta {
		return 0
	}
	return bytes.Compare(a.Key.Raw, b.Key.Raw)
}

// equalKeyed reports whether a and b address the same ledger key,
// independent of their Kind (§4.1: "!cmp(a,b) && !cmp(b,a)").
func equalKeyed(a, b Entry) bool {
	return a.Key.Equal(b.Key)
}
