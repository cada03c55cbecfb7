package concord

import (
	"log/slog"
	"slices"

	"github.com/replicated-systems/concord/crdt"
	"github.com/replicated-systems/concord/utils"
)

/*
	Document is one replica's full state: the causal set of applied
	changes (the operation log, which is the actual source of truth)
	plus the object tree materialized from it.

A Document is single-writer: it is not safe for concurrent mutation
from multiple goroutines without external synchronization. Nothing
here blocks or touches I/O; commits, merges and materialization are
synchronous and deterministic.
*/
type Document struct {
	actor crdt.Actor

	log     []*Change // admission order, dependency-respecting
	byHash  map[Hash]*Change
	byActor map[crdt.Actor][]*Change // ascending StartOp
	heads   map[Hash]struct{}        // current causal frontier
	vv      crdt.VV

	tree *tree
	pend *pending

	tx      *Transaction
	logger  utils.Logger
	metrics *Metrics
	strict  bool
}

type Option func(*Document)

// WithActor resumes a known writing identity instead of generating a
// fresh one. The caller owns uniqueness across live replicas.
func WithActor(a crdt.Actor) Option {
	return func(d *Document) { d.actor = a }
}

func WithLogger(l utils.Logger) Option {
	return func(d *Document) { d.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(d *Document) { d.metrics = m }
}

// WithStrictDeps makes ApplyChanges fail (and roll back) instead of
// buffering changes whose dependencies have not arrived.
func WithStrictDeps() Option {
	return func(d *Document) { d.strict = true }
}

// Init creates a new empty Document with a fresh actor identity.
func Init(opts ...Option) *Document {
	d := &Document{
		byHash:  make(map[Hash]*Change),
		byActor: make(map[crdt.Actor][]*Change),
		heads:   make(map[Hash]struct{}),
		vv:      make(crdt.VV),
		tree:    newTree(),
		pend:    newPending(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.actor == crdt.Actor0 {
		d.actor = crdt.NewActor()
	}
	if d.logger == nil {
		d.logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	return d
}

func (d *Document) Actor() crdt.Actor {
	return d.actor
}

// Fork is a deep, independent copy sharing the causal history
// snapshot and nothing mutable. The fork writes under a fresh actor
// so it can never collide with the source's future operations.
func (d *Document) Fork(opts ...Option) *Document {
	nd := Init(append([]Option{WithLogger(d.logger)}, opts...)...)
	nd.strict = d.strict
	for _, c := range d.log {
		nd.admit(c)
	}
	for _, c := range d.pend.all() {
		nd.pend.add(c, nd.unmetDeps(c))
	}
	return nd
}

// Heads is the current causal frontier: hashes of the changes no
// other applied change depends on. Sorted, deterministic.
func (d *Document) Heads() []Hash {
	hs := make([]Hash, 0, len(d.heads))
	for h := range d.heads {
		hs = append(hs, h)
	}
	slices.SortFunc(hs, Hash.Compare)
	return hs
}

// MissingDeps lists the dependency hashes the buffered changes are
// still waiting for.
func (d *Document) MissingDeps() []Hash {
	return d.pend.missing()
}

// VV is a copy of the document's version vector.
func (d *Document) VV() crdt.VV {
	return d.vv.Clone()
}

// NumChanges is the applied change count; buffered changes excluded.
func (d *Document) NumChanges() int {
	return len(d.log)
}

// Changes returns the applied changes not covered by the given
// version vector, in dependency-respecting order. A nil vector
// returns the full history.
func (d *Document) Changes(since crdt.VV) []*Change {
	var out []*Change
	for _, c := range d.log {
		if since.CoversID(c.LastOp()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// GetLastLocalChange returns the most recent change committed by
// this replica's own actor, or nil before the first local commit.
func (d *Document) GetLastLocalChange() *Change {
	own := d.byActor[d.actor]
	if len(own) == 0 {
		return nil
	}
	return own[len(own)-1]
}

// admit records a change as applied and plays its ops into the tree.
// The caller has verified the dependencies.
func (d *Document) admit(c *Change) error {
	for i := range c.Ops {
		if err := d.tree.applyOp(c.Ops[i]); err != nil {
			return err
		}
	}
	d.admitCommitted(c)
	return nil
}

// admitCommitted does the log bookkeeping only; transaction commits
// use it directly since their ops are already in the tree.
func (d *Document) admitCommitted(c *Change) {
	d.log = append(d.log, c)
	d.byHash[c.Hash()] = c
	d.byActor[c.Actor] = append(d.byActor[c.Actor], c)
	d.vv.PutID(c.LastOp())
	for _, dep := range c.Deps {
		delete(d.heads, dep)
	}
	d.heads[c.Hash()] = struct{}{}
	if d.metrics != nil {
		d.metrics.ChangesApplied.Inc()
		d.metrics.OpsApplied.Add(float64(len(c.Ops)))
	}
}

// rebuildTree re-materializes the object tree from the log. Replay
// cannot fail: every change in the log has been applied before.
func (d *Document) rebuildTree() {
	t := newTree()
	for _, c := range d.log {
		for i := range c.Ops {
			if err := t.applyOp(c.Ops[i]); err != nil {
				d.logger.Error("rebuild hit a broken op", "op", c.Ops[i].ID.String(), "err", err)
			}
		}
	}
	d.tree = t
}

// rollback truncates the log to n changes and rebuilds every derived
// structure, restoring the exact pre-batch state.
func (d *Document) rollback(n int) {
	d.log = d.log[:n]
	d.byHash = make(map[Hash]*Change, len(d.log))
	d.byActor = make(map[crdt.Actor][]*Change)
	d.heads = make(map[Hash]struct{})
	d.vv = make(crdt.VV)
	for _, c := range d.log {
		d.byHash[c.Hash()] = c
		d.byActor[c.Actor] = append(d.byActor[c.Actor], c)
		d.vv.PutID(c.LastOp())
		for _, dep := range c.Deps {
			delete(d.heads, dep)
		}
		d.heads[c.Hash()] = struct{}{}
	}
	d.rebuildTree()
}
