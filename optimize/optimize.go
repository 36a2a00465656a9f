// Package optimize rewrites the object graph of a store.Context before a
// full rewrite. None of its passes are safe for incremental output, which
// must not renumber or drop objects of earlier revisions.
package optimize

import (
	"context"
	"fmt"

	"github.com/wudi/pdfrev/observability"
	"github.com/wudi/pdfrev/store"
)

type Config struct {
	// CombineIdenticalIndirectObjects merges byte-identical objects of any
	// kind, streams included.
	CombineIdenticalIndirectObjects bool
	// CombineDuplicateStreams merges identical streams only.
	CombineDuplicateStreams bool
	// CleanUnusedObjects deletes objects unreachable from the trailer.
	CleanUnusedObjects bool
	// CompressStreams Flate-encodes streams that carry no filter.
	CompressStreams bool
	Logger          observability.Logger
}

// Report counts what each pass changed.
type Report struct {
	Merged     int
	Removed    int
	Compressed int
}

type Optimizer struct {
	config Config
	log    observability.Logger
}

func New(config Config) *Optimizer {
	return &Optimizer{config: config, log: observability.OrNop(config.Logger)}
}

func (o *Optimizer) Optimize(ctx context.Context, c *store.Context) (Report, error) {
	var rep Report
	if o.config.CleanUnusedObjects {
		n, err := o.cleanUnusedObjects(ctx, c)
		if err != nil {
			return rep, fmt.Errorf("failed to clean unused objects: %w", err)
		}
		rep.Removed = n
	}

	if o.config.CombineIdenticalIndirectObjects || o.config.CombineDuplicateStreams {
		n, err := o.combineObjects(ctx, c, !o.config.CombineIdenticalIndirectObjects)
		if err != nil {
			return rep, fmt.Errorf("failed to combine identical objects: %w", err)
		}
		rep.Merged = n
	}

	if o.config.CompressStreams {
		n, err := o.compressStreams(ctx, c)
		if err != nil {
			return rep, fmt.Errorf("failed to compress streams: %w", err)
		}
		rep.Compressed = n
	}

	o.log.Debug("optimized",
		observability.Int("merged", rep.Merged),
		observability.Int("removed", rep.Removed),
		observability.Int("compressed", rep.Compressed))
	return rep, nil
}

// Deduplicate merges every group of identical indirect objects into the
// lowest-numbered member and returns how many objects were removed.
func Deduplicate(ctx context.Context, c *store.Context) (int, error) {
	rep, err := New(Config{CombineIdenticalIndirectObjects: true}).Optimize(ctx, c)
	return rep.Merged, err
}
