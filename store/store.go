// Package store persists change histories in a Pebble key space: an
// append-only change log per document plus a head version vector
// maintained through a merge operator. The engine core is I/O-free;
// this is the durability layer around it.
package store

import (
	"io"
	"log/slog"

	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/replicated-systems/concord"
	"github.com/replicated-systems/concord/crdt"
	"github.com/replicated-systems/concord/utils"
)

// Key space:
//
//	c/<doc>/<hash>  change wire bytes, content-addressed
//	h/<doc>         head version vector, merged on write
const (
	prefixChange = 'c'
	prefixHead   = 'h'
)

var ErrClosed = errors.New("store: already closed")

// vvMerger unions version vector records inside Pebble; the union is
// commutative, so merge order does not matter.
var vvMerger = &pebble.Merger{
	Name: "concord.vv",
	Merge: func(key, value []byte) (pebble.ValueMerger, error) {
		m := &vvMerge{vv: make(crdt.VV)}
		if err := m.vv.PutTLV(value); err != nil {
			return nil, err
		}
		return m, nil
	},
}

type vvMerge struct {
	vv crdt.VV
}

func (m *vvMerge) MergeNewer(value []byte) error {
	return m.vv.PutTLV(value)
}

func (m *vvMerge) MergeOlder(value []byte) error {
	return m.vv.PutTLV(value)
}

func (m *vvMerge) Finish(includesBase bool) ([]byte, io.Closer, error) {
	return m.vv.TLV(), nil, nil
}

const decodedCacheSize = 1024

type Store struct {
	db     *pebble.DB
	cache  *lru.Cache[concord.Hash, *concord.Change]
	heads  *xsync.MapOf[string, crdt.VV]
	logger utils.Logger
	closed bool
}

type Option func(*Store)

func WithLogger(l utils.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func Open(path string, opts ...Option) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{Merger: vvMerger})
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}
	cache, _ := lru.New[concord.Hash, *concord.Change](decodedCacheSize)
	s := &Store{
		db:    db,
		cache: cache,
		heads: xsync.NewMapOf[string, crdt.VV](),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return s.db.Close()
}

func changeKey(doc string, h concord.Hash) []byte {
	k := make([]byte, 0, len(doc)+len(h)+3)
	k = append(k, prefixChange, '/')
	k = append(k, doc...)
	k = append(k, '/')
	return append(k, h[:]...)
}

func headKey(doc string) []byte {
	k := make([]byte, 0, len(doc)+2)
	k = append(k, prefixHead, '/')
	return append(k, doc...)
}

// AppendChange persists one change; rewriting the same hash is a
// no-op by construction.
func (s *Store) AppendChange(doc string, c *concord.Change) error {
	if s.closed {
		return ErrClosed
	}
	b := s.db.NewBatch()
	if err := s.stage(b, doc, c); err != nil {
		return err
	}
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		return errors.Wrap(err, "store: append")
	}
	s.cache.Add(c.Hash(), c)
	s.heads.Delete(doc) // reread from the merged key next time
	return nil
}

func (s *Store) stage(b *pebble.Batch, doc string, c *concord.Change) error {
	if err := b.Set(changeKey(doc, c.Hash()), c.Bytes(), nil); err != nil {
		return errors.Wrap(err, "store: stage change")
	}
	vv := make(crdt.VV)
	vv.PutID(c.LastOp())
	if err := b.Merge(headKey(doc), vv.TLV(), nil); err != nil {
		return errors.Wrap(err, "store: stage head")
	}
	return nil
}

// SaveDoc appends every applied change of the document in one atomic
// batch. Already-present changes overwrite themselves harmlessly.
func (s *Store) SaveDoc(doc string, d *concord.Document) error {
	if s.closed {
		return ErrClosed
	}
	b := s.db.NewBatch()
	for _, c := range d.Changes(nil) {
		if err := s.stage(b, doc, c); err != nil {
			return err
		}
	}
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		return errors.Wrap(err, "store: save")
	}
	s.heads.Store(doc, d.VV())
	s.logger.Debug("saved document", "doc", doc, "changes", d.NumChanges())
	return nil
}

// LoadDoc replays a document from its stored change log. Changes
// come back in hash order; the engine's dependency buffering puts
// them in causal order.
func (s *Store) LoadDoc(doc string, opts ...concord.Option) (*concord.Document, error) {
	if s.closed {
		return nil, ErrClosed
	}
	lo := changeKey(doc, concord.Hash{})
	hi := append([]byte{}, lo[:len(lo)-len(concord.Hash{})]...)
	hi[len(hi)-1]++ // '/' + 1 bounds the prefix
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, errors.Wrap(err, "store: iterate")
	}
	defer it.Close()

	var changes []*concord.Change
	for it.First(); it.Valid(); it.Next() {
		key := it.Key()
		h := concord.Hash(key[len(key)-len(concord.Hash{}):])
		c, ok := s.cache.Get(h)
		if !ok {
			c, err = concord.DecodeChange(it.Value())
			if err != nil {
				return nil, err
			}
			s.cache.Add(h, c)
		}
		changes = append(changes, c)
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, "store: iterate")
	}

	d := concord.Init(opts...)
	if err := d.ApplyChanges(changes...); err != nil {
		return nil, err
	}
	if len(d.MissingDeps()) > 0 {
		return nil, errors.Wrapf(concord.ErrCorruptHistory,
			"stored history for %q is missing dependencies", doc)
	}
	s.heads.Store(doc, d.VV())
	return d, nil
}

// Heads returns the stored head version vector for a document.
func (s *Store) Heads(doc string) (crdt.VV, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if vv, ok := s.heads.Load(doc); ok {
		return vv.Clone(), nil
	}
	val, closer, err := s.db.Get(headKey(doc))
	if err == pebble.ErrNotFound {
		return make(crdt.VV), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: heads")
	}
	defer closer.Close()
	vv := make(crdt.VV)
	if err := vv.PutTLV(val); err != nil {
		return nil, err
	}
	s.heads.Store(doc, vv)
	return vv.Clone(), nil
}
