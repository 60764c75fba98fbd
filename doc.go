/*
Package bucket implements one bucket of a log-structured, content-addressed
key-value store: an immutable sorted file of ledger entries that is built
fresh from a batch of writes or produced by merging two older buckets under
a set of shadow buckets.

We implement:

 1. A closed record model (INIT/LIVE/DEAD/META) with a key-only ordering
    comparator.

 2. An output builder that streams sorted records to a temp file, folds
    them into a running content hash, and hands the finished file to a
    BucketManager for adoption or dedup.

 3. A two-way merge engine that combines two buckets under N shadow
    buckets, enforcing protocol-versioned lifecycle rules so that a
    tombstone is never silently elided when doing so would resurrect an
    older value.

 4. Point and range lookup through an external index, and a pool-share
    trustline scan keyed by owning account.

 5. A byte-budgeted eviction scanner that resumes across calls via a
    persistent cursor and asks an abstract ledger transaction to expire
    temporary entries.

# Technical Details

**Buckets.** A bucket is the immutable 4-tuple (filename, hash, size,
index). The empty bucket is the distinguished zero value: empty filename,
zero hash, no index. hash is the sha256 digest of the exact bytes written
to the file; it is the bucket's identity for adoption and dedup.

**File layout.** A bucket file is a sequence of length-prefixed records.
The first record, if present, is META carrying the bucket's protocol
version; it must never appear elsewhere in the stream. See
internal/bucketfile for the concrete framing (record header, per-record
xxhash checksum, content hash).

**Record encoding.** Key bytes and the DEAD tag need nothing further.
INIT and LIVE carry an opaque LedgerValue encoded with msgpack, the same
pooled encoder/decoder approach used elsewhere in this codebase for
arbitrary row payloads.

**Protocol-versioned merge.** See the comments on Merge and
mergeEqualKeyed in merge.go for the shadow elision rule and the
lifecycle table; merging is the part of this
package most sensitive to getting wrong; a single misapplied case
resurrects ledger state that was meant to stay dead.
*/
package bucket
