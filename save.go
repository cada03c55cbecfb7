package concord

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/learn-decentralized-systems/toyqueue"
	"github.com/learn-decentralized-systems/toytlv"
	"github.com/pkg/errors"
	"github.com/replicated-systems/concord/crdt"
)

// Document wire format: one 'H' header record (magic, format
// version, xxhash64 checksum of the rest), then every change record
// in dependency-respecting order. The materialized tree is never
// serialized; load rebuilds it from the changes.

var saveMagic = [4]byte{0xc5, 'C', 'D', 'C'}

const saveVersion = 1

// Save serializes the full causal history. load(save(doc)) is
// observably identical to doc: same visible tree, same change set,
// same behavior as a merge input.
func (d *Document) Save() ([]byte, error) {
	if d.tx != nil {
		return nil, ErrTransactionOpen
	}
	recs := make(toyqueue.Records, 0, len(d.log))
	for _, c := range d.log {
		recs = append(recs, c.Bytes())
	}
	body := toytlv.Concat(recs...)

	hdr := make([]byte, 0, 13)
	hdr = append(hdr, saveMagic[:]...)
	hdr = append(hdr, saveVersion)
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], xxhash.Sum64(body))
	hdr = append(hdr, sum[:]...)

	return append(toytlv.Record('H', hdr), body...), nil
}

// SaveChanges returns the wire form of the applied changes not
// covered by the given version vector, ready for transmission. A nil
// vector returns the whole history.
func (d *Document) SaveChanges(since crdt.VV) toyqueue.Records {
	chs := d.Changes(since)
	recs := make(toyqueue.Records, 0, len(chs))
	for _, c := range chs {
		recs = append(recs, c.Bytes())
	}
	return recs
}

// Load reconstructs a Document from serialized bytes. Anything
// malformed, checksum-mismatched or causally unsatisfiable fails
// with ErrCorruptHistory; a failed load returns no document.
func Load(data []byte, opts ...Option) (*Document, error) {
	hdr, body, err := toytlv.TakeWary('H', data)
	if err != nil || len(hdr) != 13 {
		return nil, errors.Wrap(ErrCorruptHistory, "bad document header")
	}
	if !bytes.Equal(hdr[:4], saveMagic[:]) {
		return nil, errors.Wrap(ErrCorruptHistory, "bad magic")
	}
	if hdr[4] != saveVersion {
		return nil, errors.Wrapf(ErrCorruptHistory, "unsupported format version %d", hdr[4])
	}
	if binary.BigEndian.Uint64(hdr[5:]) != xxhash.Sum64(body) {
		return nil, errors.Wrap(ErrCorruptHistory, "checksum mismatch")
	}

	var changes []*Change
	rest := body
	for len(rest) > 0 {
		lit, hlen, blen := toytlv.ProbeHeader(rest)
		if lit != 'C' || hlen+blen > len(rest) {
			return nil, errors.Wrap(ErrCorruptHistory, "truncated change stream")
		}
		c, cerr := DecodeChange(rest[:hlen+blen])
		if cerr != nil {
			return nil, cerr
		}
		changes = append(changes, c)
		rest = rest[hlen+blen:]
	}

	d := Init(opts...)
	if err := d.ApplyChanges(changes...); err != nil {
		return nil, errors.Wrapf(ErrCorruptHistory, "replay failed: %v", err)
	}
	if d.pend.len() > 0 {
		return nil, errors.Wrapf(ErrCorruptHistory,
			"%d changes with unsatisfiable dependencies", d.pend.len())
	}
	return d, nil
}
