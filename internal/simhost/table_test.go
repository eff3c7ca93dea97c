package simhost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDesc struct {
	*Base
	closed bool
}

func newFakeDesc() *fakeDesc {
	return &fakeDesc{Base: NewBase(ACTIVE)}
}

func (f *fakeDesc) Close() error {
	f.closed = true
	f.SetStatus(CLOSED)
	return nil
}

func Test_InsertAllocatesLowestUnused(t *testing.T) {
	tbl := NewDescriptorTable()

	h0 := tbl.Insert(newFakeDesc())
	h1 := tbl.Insert(newFakeDesc())
	assert.Equal(t, 0, h0.FD)
	assert.Equal(t, 1, h1.FD)

	require.NoError(t, tbl.Close(h0.FD))

	h2 := tbl.Insert(newFakeDesc())
	assert.Equal(t, 0, h2.FD, "closed fd 0 must be reused before allocating fd 2")
}

func Test_CloseDestroysAtZeroRefcount(t *testing.T) {
	tbl := NewDescriptorTable()
	d := newFakeDesc()
	h := tbl.Insert(d)

	dup, err := tbl.Dup(h.FD)
	require.NoError(t, err)

	require.NoError(t, tbl.Close(h.FD))
	assert.False(t, d.closed, "refcount still held by dup'd fd")

	require.NoError(t, tbl.Close(dup.FD))
	assert.True(t, d.closed)
}

func Test_Dup2ClosesExistingTarget(t *testing.T) {
	tbl := NewDescriptorTable()
	a := newFakeDesc()
	b := newFakeDesc()
	ha := tbl.Insert(a)
	hb := tbl.Insert(b)

	require.NoError(t, tbl.Dup2(ha.FD, hb.FD))
	assert.True(t, b.closed, "dup2 must close the previous occupant of newfd")

	got, ok := tbl.Lookup(hb.FD)
	require.True(t, ok)
	assert.Same(t, a, got)
}

func Test_ResolveRejectsStaleGeneration(t *testing.T) {
	tbl := NewDescriptorTable()
	h := tbl.Insert(newFakeDesc())
	require.NoError(t, tbl.Close(h.FD))

	tbl.Insert(newFakeDesc()) // reallocates fd 0 at a new generation

	_, ok := tbl.Resolve(h)
	assert.False(t, ok, "a handle from before close/reopen must not resolve")
}

func Test_CloseOnExecClosesFlaggedDescriptors(t *testing.T) {
	tbl := NewDescriptorTable()
	keep := newFakeDesc()
	drop := newFakeDesc()
	hk := tbl.Insert(keep)
	hd := tbl.Insert(drop)

	require.NoError(t, tbl.SetCloseOnExec(hd.FD, true))
	require.NoError(t, tbl.ExecClose())

	assert.True(t, drop.closed)
	assert.False(t, keep.closed)
	_, ok := tbl.Lookup(hk.FD)
	assert.True(t, ok)
}

func Test_CloseOfUnallocatedFDErrors(t *testing.T) {
	tbl := NewDescriptorTable()
	assert.Error(t, tbl.Close(7))
}
