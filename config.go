package bucket

// Protocol version guards named per spec.md's DESIGN NOTES: every
// version comparison in the merge engine (§4.5) and eviction scanner
// (§4.6) goes through one of these constants, never a bare literal.
const (
	// FirstProtocolSupportingInitEntryAndMetaEntry is the protocol at
	// which INIT and META records become legal, and at which shadowed
	// INIT/DEAD entries stop being elided (only LIVE may be shadowed).
	FirstProtocolSupportingInitEntryAndMetaEntry uint32 = 11

	// FirstProtocolShadowsRemoved is the protocol at which the bucket
	// list stops using shadow buckets entirely; a merge computing this
	// version or higher must see zero shadows.
	FirstProtocolShadowsRemoved uint32 = 18

	// SorobanProtocolVersion is the protocol at which temporary ledger
	// entries (and therefore eviction) become meaningful; eviction scans
	// against older buckets are a no-op.
	SorobanProtocolVersion uint32 = 20
)

// Config carries the caller-supplied policy knobs of spec.md §4.3-§4.5:
// no global state, no file-based loader (an explicit Non-goal), passed
// by value into constructors the way journal.Options is.
type Config struct {
	// MaxProtocolVersion ceilings the protocol version a merge may
	// compute; exceeding it is a fatal condition reported as a *MergeError.
	MaxProtocolVersion uint32

	// KeepTombstones is carried in Config but not read by this package:
	// DEAD elision at the oldest level of the hierarchy (spec.md §4.3's
	// "secondary tombstone elision") is controlled only by the
	// keepDeadEntries argument of NewOutputBuilder (MergeOptions and
	// FreshOptions pass their KeepDeadEntries field there).
	KeepTombstones bool

	// IndexPageSize is the Index's page size; 0 means "read one record
	// per offset" (spec.md §3).
	IndexPageSize int

	// UseBloomFilter controls whether GetBucket builds a bloom filter
	// alongside the offset index.
	UseBloomFilter bool
}

// DefaultConfig mirrors the bucket list's usual operating point:
// KeepTombstones set, bloom filter on, one record fetched per indexed offset.
func DefaultConfig() Config {
	return Config{
		MaxProtocolVersion: SorobanProtocolVersion,
		KeepTombstones:     true,
		IndexPageSize:      0,
		UseBloomFilter:     true,
	}
}
