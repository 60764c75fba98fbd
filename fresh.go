package bucket

import (
	"fmt"
	"log/slog"
	"sort"
)

// FreshOptions carries NewFreshBucket's per-call knobs (SPEC_FULL.md
// §10's ambient Config/Logger pattern, mirrored from MergeOptions).
type FreshOptions struct {
	Config          Config
	ProtocolVersion uint32
	OldestLevel     bool
	KeepDeadEntries bool
	UseIndex        bool
	Logger          *slog.Logger
}

// NewFreshBucket is spec.md §4.7's fresh-bucket constructor: three entry
// vectors (init/live/dead) plus a protocol version become one sorted,
// META-prefixed bucket. Below FIRST_PROTOCOL_SUPPORTING_INITENTRY_AND_METAENTRY
// the initEntries collapse to LIVE, since INIT records are illegal at
// that protocol.
func NewFreshBucket(
	initEntries, liveEntries, deadEntries []Entry,
	manager BucketManager,
	opts FreshOptions,
) (Bucket, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	supportsInit := opts.ProtocolVersion >= FirstProtocolSupportingInitEntryAndMetaEntry

	all := make([]Entry, 0, len(initEntries)+len(liveEntries)+len(deadEntries))
	for _, e := range initEntries {
		if supportsInit {
			all = append(all, InitEntry(e.Key, e.Value))
		} else {
			all = append(all, LiveEntry(e.Key, e.Value))
		}
	}
	for _, e := range liveEntries {
		all = append(all, LiveEntry(e.Key, e.Value))
	}
	for _, e := range deadEntries {
		all = append(all, DeadEntry(e.Key))
	}

	sort.SliceStable(all, func(i, j int) bool {
		return compareEntries(all[i], all[j]) < 0
	})
	for i := 1; i < len(all); i++ {
		if equalKeyed(all[i-1], all[i]) {
			panic(fmt.Sprintf("bucket: fresh build: adjacent equal-keyed entries at key %x", all[i].Key.Raw))
		}
	}

	ob, err := NewOutputBuilder(opts.Config, manager, opts.OldestLevel, opts.KeepDeadEntries, logger)
	if err != nil {
		return Bucket{}, err
	}
	if err := ob.PutMeta(Metadata{LedgerVersion: opts.ProtocolVersion}); err != nil {
		ob.w.Abort()
		return Bucket{}, err
	}
	for _, e := range all {
		if err := ob.Put(e); err != nil {
			ob.w.Abort()
			return Bucket{}, err
		}
	}

	logger.Debug("bucket: fresh build", slog.Int("protocol_version", int(opts.ProtocolVersion)), slog.Int("entries", len(all)))
	return ob.GetBucket(opts.UseIndex, nil)
}
