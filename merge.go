package bucket

import (
	"errors"
	"io"
	"log/slog"
	"time"
)

// LedgerTxn is the abstract collaborator the eviction scanner consults
// (spec.md §6); modeled narrowly per spec.md §1's exclusion of the
// concrete database-backed ledger transaction.
type LedgerTxn interface {
	LoadWithoutRecord(k Key) (Entry, bool, error)
	Erase(k Key) error
}

// MergeOptions carries the per-call knobs of spec.md §4.5 plus the
// ambient logging/timer collaborators (SPEC_FULL.md §10, §12).
type MergeOptions struct {
	Config          Config
	Shadows         []Bucket
	KeepDeadEntries bool
	OldestLevel     bool
	UseIndex        bool
	Logger          *slog.Logger
}

// Merge is the two-way ordered merge of spec.md §4.5: old and new plus
// any shadows produce a new Bucket registered with manager. The fatal
// conditions of spec.md §7 (equal-keyed INIT/INIT or LIVE/INIT, protocol
// ceiling overrun, or non-empty shadows at-or-after
// FIRST_PROTOCOL_SHADOWS_REMOVED) are raised internally as a *MergeError
// panic and recovered at the top of Merge, which returns that error as
// err; panics whose value is not an error propagate to the caller. This
// is the same panic/recover boundary idiom this codebase uses around
// bbolt's Batch in its transaction helper.
func Merge(old, new_ Bucket, manager BucketManager, opts MergeOptions) (out Bucket, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			panic(r)
		}
	}()
	defer func() {
		if t := manager.GetMergeTimer(); t != nil {
			t.Observe(time.Since(start))
		}
	}()

	oldMeta, newMeta, shadowMetas, oldCur, newCur, shadowCurs, err := openMergeCursors(old, new_, opts.Shadows)
	if err != nil {
		return Bucket{}, err
	}
	defer closeCursors(oldCur, newCur, shadowCurs)

	protocol := mergeProtocolVersion(oldMeta, newMeta, shadowMetas)
	if protocol > opts.Config.MaxProtocolVersion {
		panic(mergeErrf(old.Hash, new_.Hash, protocol, nil, "computed protocol version exceeds configured ceiling %d", opts.Config.MaxProtocolVersion))
	}
	if len(shadowCurs) > 0 && protocol >= FirstProtocolShadowsRemoved {
		panic(mergeErrf(old.Hash, new_.Hash, protocol, nil, "non-empty shadows not supported at protocol %d", protocol))
	}
	keepShadowedLifecycleEntries := protocol >= FirstProtocolSupportingInitEntryAndMetaEntry

	logger.Debug("bucket: merge starting",
		hexAttr("old_hash", old.Hash[:]), hexAttr("new_hash", new_.Hash[:]),
		slog.Int("protocol_version", int(protocol)), slog.Int("shadow_count", len(shadowCurs)))

	ob, err := NewOutputBuilder(opts.Config, manager, opts.OldestLevel, opts.KeepDeadEntries, logger)
	if err != nil {
		return Bucket{}, err
	}
	if err := ob.PutMeta(Metadata{LedgerVersion: protocol}); err != nil {
		ob.w.Abort()
		return Bucket{}, err
	}

	var mc MergeCounters
	mc.ShadowCount = len(shadowCurs)
	iterations := 0

	maybePut := func(e Entry) error {
		if !(keepShadowedLifecycleEntries && (e.Kind == EntryInit || e.Kind == EntryDead)) {
			shadowed := false
			for i := range shadowCurs {
				sc := shadowCurs[i]
				for sc.Valid() && compareEntries(sc.Entry(), e) < 0 {
					if err := sc.Advance(); err != nil {
						break
					}
				}
				if sc.Valid() && equalKeyed(sc.Entry(), e) {
					shadowed = true
				}
			}
			if shadowed {
				return nil
			}
		}
		if err := ob.Put(e); err != nil {
			return err
		}
		return nil
	}

	for oldCur.Valid() || newCur.Valid() {
		iterations++
		if iterations%1000 == 0 && manager.IsShutdown() {
			logger.Warn("bucket: merge aborted by shutdown", hexAttr("old_hash", old.Hash[:]), hexAttr("new_hash", new_.Hash[:]))
			ob.w.Abort()
			return Bucket{}, ErrShutdown
		}

		switch {
		case !newCur.Valid() || (oldCur.Valid() && compareEntries(oldCur.Entry(), newCur.Entry()) < 0):
			mc.EntriesOld++
			if err := maybePut(oldCur.Entry()); err != nil {
				ob.w.Abort()
				return Bucket{}, err
			}
			if err := oldCur.Advance(); err != nil && !errors.Is(err, io.EOF) {
				return Bucket{}, err
			}

		case !oldCur.Valid() || compareEntries(newCur.Entry(), oldCur.Entry()) < 0:
			mc.EntriesNew++
			if err := maybePut(newCur.Entry()); err != nil {
				ob.w.Abort()
				return Bucket{}, err
			}
			if err := newCur.Advance(); err != nil && !errors.Is(err, io.EOF) {
				return Bucket{}, err
			}

		default:
			oe, ne := oldCur.Entry(), newCur.Entry()
			mc.EntriesOld++
			mc.EntriesNew++
			result, fatal := mergeEqualKeyed(oe, ne)
			if fatal {
				panic(mergeErrf(old.Hash, new_.Hash, protocol, nil,
					"invariant violation: equal-keyed (%s,%s) at key %x", oe.Kind, ne.Kind, oe.Key.Raw))
			}
			if result != nil {
				if err := maybePut(*result); err != nil {
					ob.w.Abort()
					return Bucket{}, err
				}
			}
			if err := oldCur.Advance(); err != nil && !errors.Is(err, io.EOF) {
				return Bucket{}, err
			}
			if err := newCur.Advance(); err != nil && !errors.Is(err, io.EOF) {
				return Bucket{}, err
			}
		}
	}

	var mergeKeyPtr *MergeKey
	mk := MergeKey{KeepDeadEntries: opts.KeepDeadEntries, Old: old.Hash, New: new_.Hash, Shadows: shadowHashes(opts.Shadows)}
	mergeKeyPtr = &mk

	out, err = ob.GetBucket(opts.UseIndex, mergeKeyPtr)
	if err != nil {
		return Bucket{}, err
	}
	mc.EntriesOut = uint64(ob.count)
	mc.BytesOut = out.Size
	manager.IncrMergeCounters(mc)
	return out, nil
}

// mergeEqualKeyed applies the lifecycle table of spec.md §4.5: the two
// fatal cells are (INIT,INIT) and (LIVE,INIT). (INIT,DEAD) annihilates
// both (result==nil, fatal==false). (INIT,LIVE) stays INIT, carrying
// new's value forward, since the entry never existed durably before
// old. Every remaining combination resolves to "take new" as-is. The
// open question of §9 (DEAD+DEAD, LIVE+DEAD) is resolved as spec.md
// adopts: neither side is INIT, so both fall through to "take new,"
// which for a DEAD new entry yields DEAD.
func mergeEqualKeyed(old, new_ Entry) (result *Entry, fatal bool) {
	if new_.Kind == EntryInit {
		// old==INIT or old==LIVE with new==INIT is always a malformation;
		// old==DEAD with new==INIT is the documented upgrade to LIVE.
		if old.Kind != EntryDead {
			return nil, true
		}
		live := LiveEntry(new_.Key, new_.Value)
		return &live, false
	}
	if old.Kind == EntryInit && new_.Kind == EntryDead {
		return nil, false
	}
	if old.Kind == EntryInit && new_.Kind == EntryLive {
		// A create shadowed by a fresher update is still a create: the
		// entry never existed durably before old, so the lifecycle state
		// must stay INIT, carrying new's value forward.
		init := InitEntry(new_.Key, new_.Value)
		return &init, false
	}
	e := new_
	return &e, false
}

// mergeProtocolVersion computes spec.md §4.5's output protocol version:
// the max of old, new, and every shadow version older than
// FIRST_PROTOCOL_SHADOWS_REMOVED (a shadow at or after that version
// contributes nothing, since by then shadows should not exist at all).
func mergeProtocolVersion(oldMeta, newMeta Metadata, shadowMetas []Metadata) uint32 {
	v := oldMeta.LedgerVersion
	if newMeta.LedgerVersion > v {
		v = newMeta.LedgerVersion
	}
	for _, sm := range shadowMetas {
		if sm.LedgerVersion < FirstProtocolShadowsRemoved && sm.LedgerVersion > v {
			v = sm.LedgerVersion
		}
	}
	return v
}

// emptyCursor satisfies Cursor for an empty bucket input to a merge,
// always invalid, carrying a zero-value Metadata.
type emptyCursor struct{}

func (emptyCursor) Valid() bool        { return false }
func (emptyCursor) Entry() Entry       { panic("bucket: Entry() on empty cursor") }
func (emptyCursor) Advance() error     { return nil }
func (emptyCursor) Metadata() Metadata { return Metadata{} }
func (emptyCursor) Close() error       { return nil }

func openCursorFor(b Bucket) (Cursor, error) {
	if b.IsEmpty() {
		return emptyCursor{}, nil
	}
	return OpenCursor(b.Path)
}

func openMergeCursors(old, new_ Bucket, shadows []Bucket) (oldMeta, newMeta Metadata, shadowMetas []Metadata, oldCur, newCur Cursor, shadowCurs []Cursor, err error) {
	oldCur, err = openCursorFor(old)
	if err != nil {
		return
	}
	newCur, err = openCursorFor(new_)
	if err != nil {
		oldCur.Close()
		return
	}
	shadowCurs = make([]Cursor, 0, len(shadows))
	for _, s := range shadows {
		sc, serr := openCursorFor(s)
		if serr != nil {
			err = serr
			closeCursors(oldCur, newCur, shadowCurs)
			return
		}
		shadowCurs = append(shadowCurs, sc)
	}
	oldMeta = oldCur.Metadata()
	newMeta = newCur.Metadata()
	shadowMetas = make([]Metadata, len(shadowCurs))
	for i, sc := range shadowCurs {
		shadowMetas[i] = sc.Metadata()
	}
	return
}

func closeCursors(oldCur, newCur Cursor, shadowCurs []Cursor) {
	if oldCur != nil {
		oldCur.Close()
	}
	if newCur != nil {
		newCur.Close()
	}
	for _, sc := range shadowCurs {
		sc.Close()
	}
}

func shadowHashes(shadows []Bucket) []Hash {
	hs := make([]Hash, len(shadows))
	for i, s := range shadows {
		hs[i] = s.Hash
	}
	return hs
}
