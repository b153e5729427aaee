package relationships

import (
	"slices"
	"strconv"
	"strings"
)

// PairKey identifies one ordered (viewer, target) pair.
type PairKey struct {
	Viewer string
	Target string
}

// Reverse returns the pair seen from the target's side.
func (k PairKey) Reverse() PairKey {
	return PairKey{Viewer: k.Target, Target: k.Viewer}
}

// String encodes the pair with length prefixes so that no two pairs share an encoding.
func (k PairKey) String() string {
	var b strings.Builder
	writeField(&b, k.Viewer)
	writeField(&b, k.Target)
	return b.String()
}

// BatchKey identifies a batch lookup by viewer and the canonical set of targets.
// Two requests for the same set share a key regardless of order or duplicates.
type BatchKey struct {
	viewer  string
	targets string
	size    int
}

// NewBatchKey canonicalizes targetIDs and returns the key with the sorted,
// de-duplicated target list it was built from.
func NewBatchKey(viewerID string, targetIDs []string) (BatchKey, []string) {
	canonical := canonicalTargets(targetIDs)

	var b strings.Builder
	for _, id := range canonical {
		writeField(&b, id)
	}
	return BatchKey{viewer: viewerID, targets: b.String(), size: len(canonical)}, canonical
}

// Size is the number of distinct targets in the batch.
func (k BatchKey) Size() int {
	return k.size
}

// String renders the key for use as a flight name.
func (k BatchKey) String() string {
	var b strings.Builder
	writeField(&b, k.viewer)
	b.WriteString(k.targets)
	return b.String()
}

func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

func canonicalTargets(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
