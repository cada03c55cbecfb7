package concord

import "github.com/pkg/errors"

/*
	Merge folds src's causal history into dst. The result is a pure
	function of the two histories: merge(A,B) and merge(B,A) produce
	identical visible trees, and repeated merges are idempotent.

Actor compatibility is validated before anything is mutated, so a
failed merge leaves both documents untouched.
*/
func (dst *Document) Merge(src *Document) error {
	if dst.tx != nil || src.tx != nil {
		return ErrTransactionOpen
	}
	var missing []*Change
	for _, c := range src.log {
		if _, ok := dst.byHash[c.Hash()]; ok {
			continue
		}
		if dst.vv.Get(c.Actor) >= c.StartOp {
			return errors.Wrapf(ErrIncompatibleActor,
				"actor %s committed different ops from %d", c.Actor, c.StartOp)
		}
		missing = append(missing, c)
	}
	if len(missing) == 0 {
		return nil
	}
	if err := dst.ApplyChanges(missing...); err != nil {
		return err
	}
	if dst.metrics != nil {
		dst.metrics.Merges.Inc()
	}
	dst.logger.Debug("merged foreign history", "changes", len(missing))
	return nil
}
