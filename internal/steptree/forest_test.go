package steptree

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/stepflow/pkg/schema"
)

// sampleRefs:
//
//	a
//	cond
//	  true:  t1, t2
//	  false: f1
//	loop
//	  body:  b1
//	z
func sampleRefs() []schema.ActionStepReference {
	return []schema.ActionStepReference{
		{ActionStepID: "a"},
		{ActionStepID: "cond", Children: map[string][]schema.ActionStepReference{
			"true":  {{ActionStepID: "t1"}, {ActionStepID: "t2"}},
			"false": {{ActionStepID: "f1"}},
		}},
		{ActionStepID: "loop", Children: map[string][]schema.ActionStepReference{
			"body": {{ActionStepID: "b1"}},
		}},
		{ActionStepID: "z"},
	}
}

func mustBuild(t *testing.T) *Forest {
	t.Helper()
	f, err := Build(sampleRefs())
	require.NoError(t, err)
	require.NoError(t, f.Validate())
	return f
}

func sortedIDs(f *Forest) []string {
	ids := f.IDs()
	sort.Strings(ids)
	return ids
}

func TestBuild(t *testing.T) {
	f := mustBuild(t)
	assert.Equal(t, 8, f.Len())
	assert.Equal(t, []string{"a", "cond", "loop", "z"}, f.RootIDs())

	children, err := f.Children("cond")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, children["true"])
	assert.Equal(t, []string{"f1"}, children["false"])

	parent, key, err := f.Parent("t2")
	require.NoError(t, err)
	assert.Equal(t, "cond", parent)
	assert.Equal(t, "true", key)

	parent, _, err = f.Parent("a")
	require.NoError(t, err)
	assert.Empty(t, parent)
}

func TestBuild_DuplicateIDRejected(t *testing.T) {
	_, err := Build([]schema.ActionStepReference{
		{ActionStepID: "a", Children: map[string][]schema.ActionStepReference{
			"body": {{ActionStepID: "a"}},
		}},
	})
	require.Error(t, err)
	assert.True(t, schema.IsKind(err, schema.ErrInvalidTree))
}

func TestReferencesRoundTrip(t *testing.T) {
	f := mustBuild(t)
	again, err := Build(f.References())
	require.NoError(t, err)
	assert.Equal(t, f.IDs(), again.IDs())
	assert.Equal(t, f.RootIDs(), again.RootIDs())
}

func TestInsert(t *testing.T) {
	f := mustBuild(t)

	require.NoError(t, f.Insert("first", "", "", 0))
	require.NoError(t, f.Insert("b2", "loop", "body", -1))
	require.NoError(t, f.Insert("t0", "cond", "true", 0))

	assert.Equal(t, []string{"first", "a", "cond", "loop", "z"}, f.RootIDs())
	children, _ := f.Children("loop")
	assert.Equal(t, []string{"b1", "b2"}, children["body"])
	children, _ = f.Children("cond")
	assert.Equal(t, []string{"t0", "t1", "t2"}, children["true"])
	require.NoError(t, f.Validate())

	err := f.Insert("a", "", "", -1)
	assert.True(t, schema.IsKind(err, schema.ErrInvalidTree))

	err = f.Insert("x", "nope", "body", -1)
	assert.True(t, schema.IsKind(err, schema.ErrActionStepNotFound))

	err = f.Insert("x", "loop", "", -1)
	assert.True(t, schema.IsKind(err, schema.ErrInvalidTree))
}

func TestRemove_Subtree(t *testing.T) {
	f := mustBuild(t)

	removed, err := f.Remove("cond")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cond", "t1", "t2", "f1"}, removed)
	assert.Equal(t, 4, f.Len())
	assert.Equal(t, []string{"a", "loop", "z"}, f.RootIDs())
	assert.False(t, f.Contains("t1"))
	require.NoError(t, f.Validate())

	removed, err = f.Remove("b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, removed)
	children, _ := f.Children("loop")
	assert.Nil(t, children, "empty containers are dropped")
}

func TestReplace(t *testing.T) {
	f := mustBuild(t)

	require.NoError(t, f.Replace("cond", "cond2"))
	assert.Equal(t, []string{"a", "cond2", "loop", "z"}, f.RootIDs())
	parent, key, err := f.Parent("t1")
	require.NoError(t, err)
	assert.Equal(t, "cond2", parent)
	assert.Equal(t, "true", key)
	require.NoError(t, f.Validate())

	err = f.Replace("a", "z")
	assert.True(t, schema.IsKind(err, schema.ErrInvalidTree))
}

func TestMove(t *testing.T) {
	f := mustBuild(t)

	require.NoError(t, f.Move("z", "", "", 0))
	assert.Equal(t, []string{"z", "a", "cond", "loop"}, f.RootIDs())

	require.NoError(t, f.Move("t2", "loop", "body", 0))
	children, _ := f.Children("loop")
	assert.Equal(t, []string{"t2", "b1"}, children["body"])
	children, _ = f.Children("cond")
	assert.Equal(t, []string{"t1"}, children["true"])

	require.NoError(t, f.Move("loop", "cond", "false", -1))
	parent, key, err := f.Parent("b1")
	require.NoError(t, err)
	assert.Equal(t, "loop", parent)
	assert.Equal(t, "body", key)
	parent, key, err = f.Parent("loop")
	require.NoError(t, err)
	assert.Equal(t, "cond", parent)
	assert.Equal(t, "false", key)

	require.NoError(t, f.Validate())
	assert.Equal(t, 8, f.Len())
}

func TestMove_RejectsCycles(t *testing.T) {
	f := mustBuild(t)
	before := f.IDs()

	err := f.Move("cond", "cond", "true", -1)
	assert.True(t, schema.IsKind(err, schema.ErrInvalidTree))

	require.NoError(t, f.Move("loop", "cond", "true", -1))
	err = f.Move("cond", "loop", "body", -1)
	assert.True(t, schema.IsKind(err, schema.ErrInvalidTree))

	require.NoError(t, f.Validate())
	assert.ElementsMatch(t, before, f.IDs())
}

func TestMove_PreservesStepSet(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		f := mustBuild(t)
		for i := 0; i < 10; i++ {
			require.NoError(t, f.Insert(fmt.Sprintf("n%d", i), "", "", rng.Intn(f.Len()+1)))
		}
		wantIDs := sortedIDs(f)
		wantLen := f.Len()
		keys := []string{"true", "false", "body"}

		for move := 0; move < 40; move++ {
			ids := f.IDs()
			id := ids[rng.Intn(len(ids))]
			parentID, key := "", ""
			if rng.Intn(3) > 0 {
				parentID = ids[rng.Intn(len(ids))]
				key = keys[rng.Intn(len(keys))]
			}
			err := f.Move(id, parentID, key, rng.Intn(4)-1)
			if err != nil {
				require.True(t, schema.IsKind(err, schema.ErrInvalidTree), err.Error())
			}

			require.NoError(t, f.Validate())
			require.Equal(t, wantLen, f.Len())
			require.Equal(t, wantIDs, sortedIDs(f))
		}
	}
}
