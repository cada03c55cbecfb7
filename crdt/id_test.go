package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func actor(b byte) Actor {
	var a Actor
	a[0] = b
	return a
}

func TestIDOrder(t *testing.T) {
	a, b := actor(1), actor(2)
	assert.True(t, ID{a, 1}.Less(ID{a, 2}))
	assert.True(t, ID{b, 1}.Less(ID{a, 2}), "counter dominates the actor tiebreak")
	assert.True(t, ID{a, 2}.Less(ID{b, 2}))
	assert.False(t, ID{a, 2}.Less(ID{a, 2}))
	assert.Equal(t, 0, ID{a, 2}.Compare(ID{a, 2}))
	assert.Equal(t, -1, ID{a, 2}.Compare(ID{b, 2}))
}

func TestActorRoundTrip(t *testing.T) {
	a := NewActor()
	b, err := ActorFromString(a.String())
	assert.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = ActorFromString("zzz")
	assert.ErrorIs(t, err, ErrBadActor)

	assert.Equal(t, a, ActorFromBytes(a.Bytes()))
}

func TestIDZero(t *testing.T) {
	assert.True(t, ID0.IsZero())
	assert.False(t, ID{actor(1), 1}.IsZero())
	assert.Equal(t, "root", ID0.String())
}
