package concord

import (
	"encoding/binary"
	"slices"

	"github.com/pkg/errors"
	"github.com/replicated-systems/concord/utils"
)

// pending buffers changes delivered before their dependencies. This
// is the MissingDependency condition: not an error, just causal
// delivery doing its job out of order.
type pending struct {
	changes map[Hash]*Change
	unmet   map[Hash]int    // buffered hash -> unmet dep count
	waiters map[Hash][]Hash // missing dep -> buffered hashes
}

func newPending() *pending {
	return &pending{
		changes: make(map[Hash]*Change),
		unmet:   make(map[Hash]int),
		waiters: make(map[Hash][]Hash),
	}
}

func (p *pending) has(h Hash) bool {
	_, ok := p.changes[h]
	return ok
}

func (p *pending) add(c *Change, unmet []Hash) {
	h := c.Hash()
	p.changes[h] = c
	p.unmet[h] = len(unmet)
	for _, dep := range unmet {
		p.waiters[dep] = append(p.waiters[dep], h)
	}
}

// resolve marks a dependency as arrived; returns the buffered changes
// that became ready.
func (p *pending) resolve(dep Hash) (ready []*Change) {
	for _, h := range p.waiters[dep] {
		if _, ok := p.changes[h]; !ok {
			continue
		}
		p.unmet[h]--
		if p.unmet[h] == 0 {
			ready = append(ready, p.changes[h])
			delete(p.changes, h)
			delete(p.unmet, h)
		}
	}
	delete(p.waiters, dep)
	return
}

func (p *pending) remove(h Hash) {
	delete(p.changes, h)
	delete(p.unmet, h)
}

func (p *pending) len() int {
	return len(p.changes)
}

func (p *pending) all() []*Change {
	out := make([]*Change, 0, len(p.changes))
	for _, c := range p.changes {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *Change) int {
		return a.Hash().Compare(b.Hash())
	})
	return out
}

func (p *pending) missing() []Hash {
	var out []Hash
	for dep, hs := range p.waiters {
		alive := false
		for _, h := range hs {
			if _, ok := p.changes[h]; ok {
				alive = true
				break
			}
		}
		if alive {
			out = append(out, dep)
		}
	}
	slices.SortFunc(out, Hash.Compare)
	return out
}

func (d *Document) unmetDeps(c *Change) (unmet []Hash) {
	for _, dep := range c.Deps {
		if _, ok := d.byHash[dep]; !ok {
			unmet = append(unmet, dep)
		}
	}
	return
}

// admitKey orders ready changes deterministically: op counter first,
// then actor, then hash. Any fixed order works; this one keeps the
// log readable.
func admitKey(c *Change) string {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], c.StartOp)
	h := c.Hash()
	return string(seq[:]) + string(c.Actor.Bytes()) + string(h[:])
}

/*
	ApplyChanges admits a batch of changes, possibly delivered out of
	order: a change is applied once every change in its dependency set
	is present, and buffered until then. Applying the same change
	twice is a no-op, so delivery may also be redundant.

The batch is atomic: on any error the document is rolled back to its
pre-call state. Under WithStrictDeps a change left buffered at the
end of the call is an ErrUnresolvedChanges failure.
*/
func (d *Document) ApplyChanges(chs ...*Change) error {
	if d.tx != nil {
		return ErrTransactionOpen
	}
	logLen := len(d.log)
	prePend := d.pend.all() // snapshot for rollback
	buffered := false

	ready := utils.Heap[string]{}
	byKey := make(map[string]*Change)
	push := func(c *Change) {
		k := admitKey(c)
		if _, dup := byKey[k]; !dup {
			byKey[k] = c
			ready.Push(k)
		}
	}

	fail := func(err error) error {
		d.rollback(logLen)
		d.pend = newPending()
		for _, c := range prePend {
			d.pend.add(c, d.unmetDeps(c))
		}
		return err
	}

	for _, c := range chs {
		h := c.Hash()
		if _, ok := d.byHash[h]; ok || d.pend.has(h) {
			continue
		}
		if err := d.checkActorSeq(c); err != nil {
			return fail(err)
		}
		if unmet := d.unmetDeps(c); len(unmet) > 0 {
			d.pend.add(c, unmet)
			buffered = true
		} else {
			push(c)
		}
	}

	for ready.Len() > 0 {
		c := byKey[ready.Pop()]
		if _, ok := d.byHash[c.Hash()]; ok {
			continue
		}
		if err := d.checkActorSeq(c); err != nil {
			return fail(err)
		}
		if err := d.admit(c); err != nil {
			return fail(err)
		}
		for _, rc := range d.pend.resolve(c.Hash()) {
			push(rc)
		}
	}

	if buffered && d.pend.len() > 0 {
		if d.strict {
			return fail(errors.Wrapf(ErrUnresolvedChanges, "%d changes still buffered", d.pend.len()))
		}
		d.logger.Debug("buffered changes with unmet dependencies",
			"buffered", d.pend.len(), "missing", len(d.pend.missing()))
	}
	if d.metrics != nil {
		d.metrics.PendingChanges.Set(float64(d.pend.len()))
	}
	return nil
}

// checkActorSeq rejects a change that claims operation counters this
// document already attributes to the same actor through a different
// change. Two replicas writing under one actor id is the one fault
// the model cannot reconcile.
func (d *Document) checkActorSeq(c *Change) error {
	if d.vv.Get(c.Actor) >= c.StartOp {
		return errors.Wrapf(ErrIncompatibleActor,
			"actor %s rewrites ops from %d", c.Actor, c.StartOp)
	}
	return nil
}
