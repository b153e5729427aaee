package relationships

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchKeyIgnoresOrderAndDuplicates(t *testing.T) {
	a, targetsA := NewBatchKey(viewer, []string{"b", "a", "c", "a", ""})
	b, targetsB := NewBatchKey(viewer, []string{"c", "b", "a"})

	assert.Equal(t, a, b)
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, []string{"a", "b", "c"}, targetsA)
	assert.Equal(t, targetsA, targetsB)
	assert.Equal(t, 3, a.Size())
}

func TestBatchKeyDistinguishesAmbiguousJoins(t *testing.T) {
	a, _ := NewBatchKey(viewer, []string{"a,b"})
	b, _ := NewBatchKey(viewer, []string{"a", "b"})
	assert.NotEqual(t, a.String(), b.String())

	c, _ := NewBatchKey("v1", []string{"x"})
	d, _ := NewBatchKey("v", []string{"1x"})
	assert.NotEqual(t, c.String(), d.String())
}

func TestPairKey(t *testing.T) {
	key := PairKey{Viewer: "ab", Target: "c"}
	assert.Equal(t, PairKey{Viewer: "c", Target: "ab"}, key.Reverse())
	assert.NotEqual(t, key.String(), PairKey{Viewer: "a", Target: "bc"}.String())
}
