package crdt

import "errors"

var (
	ErrBadActor   = errors.New("crdt: malformed actor id")
	ErrNoAnchor   = errors.New("crdt: insert anchor is not in the sequence")
	ErrDupElement = errors.New("crdt: duplicate element id")
	ErrBadVRecord = errors.New("crdt: bad version vector record")
)
