package plates

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bytesEqual(a, b []byte) bool { return bytes.Equal(a, b) }

func alwaysMatch(a, b []byte) bool { return true }

func neverMatch(a, b []byte) bool { return false }

func TestResolveCreatesOnEmptyRegistry(t *testing.T) {
	reg := NewRegistry(bytesEqual)

	det := Detection{Image: []byte("crop-a"), Clarity: 120, Confidence: 0.9, Rotation: 0}
	id, updated := reg.Resolve(det, "34ABC123")

	assert.Equal(t, "PLATE001", id)
	assert.False(t, updated)

	p, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, "34ABC123", p.Text)
	assert.Equal(t, 120.0, p.Clarity)
}

func TestResolveTextDedupKeepsSharperRepresentative(t *testing.T) {
	reg := NewRegistry(neverMatch)

	first := Detection{Image: []byte("blurry"), Clarity: 120, Confidence: 0.7, Rotation: 0}
	id1, updated := reg.Resolve(first, "34ABC123")
	require.False(t, updated)

	second := Detection{Image: []byte("sharp"), Clarity: 250, Confidence: 0.9, Rotation: 90}
	id2, updated := reg.Resolve(second, "34ABC123")

	assert.Equal(t, id1, id2, "same text must resolve to one identity")
	assert.True(t, updated)

	p, ok := reg.Get(id1)
	require.True(t, ok)
	assert.Equal(t, []byte("sharp"), p.Image)
	assert.Equal(t, 250.0, p.Clarity)
	assert.Equal(t, 0.9, p.Confidence)
	assert.Equal(t, 90, p.Rotation)
	assert.Equal(t, 1, reg.Count())
}

func TestResolveDoesNotDowngradeRepresentative(t *testing.T) {
	reg := NewRegistry(neverMatch)

	sharp := Detection{Image: []byte("sharp"), Clarity: 250, Confidence: 0.9, Rotation: 0}
	id, _ := reg.Resolve(sharp, "34ABC123")

	blurry := Detection{Image: []byte("blurry"), Clarity: 120, Confidence: 0.95, Rotation: 180}
	id2, updated := reg.Resolve(blurry, "34ABC123")

	assert.Equal(t, id, id2)
	assert.True(t, updated)

	p, _ := reg.Get(id)
	assert.Equal(t, []byte("sharp"), p.Image)
	assert.Equal(t, 250.0, p.Clarity)
	assert.Equal(t, 0.9, p.Confidence)
	assert.Equal(t, 0, p.Rotation)
}

func TestResolveEqualClarityDoesNotReplace(t *testing.T) {
	reg := NewRegistry(neverMatch)

	id, _ := reg.Resolve(Detection{Image: []byte("one"), Clarity: 150}, "34ABC123")
	_, updated := reg.Resolve(Detection{Image: []byte("two"), Clarity: 150}, "34ABC123")

	assert.True(t, updated)
	p, _ := reg.Get(id)
	assert.Equal(t, []byte("one"), p.Image, "equal clarity must not replace the representative")
}

func TestResolveVisualSimilarityMergesTextlessDetections(t *testing.T) {
	reg := NewRegistry(bytesEqual)

	id1, updated := reg.Resolve(Detection{Image: []byte("same"), Clarity: 100}, "")
	require.False(t, updated)

	id2, updated := reg.Resolve(Detection{Image: []byte("same"), Clarity: 90}, "")
	assert.Equal(t, id1, id2)
	assert.True(t, updated)
	assert.Equal(t, 1, reg.Count())

	id3, updated := reg.Resolve(Detection{Image: []byte("different"), Clarity: 90}, "")
	assert.NotEqual(t, id1, id3)
	assert.False(t, updated)
	assert.Equal(t, 2, reg.Count())
}

func TestResolveWithTextSkipsVisualMatching(t *testing.T) {
	// The comparer would match anything, but a detection carrying text
	// must only dedup against equal text.
	reg := NewRegistry(alwaysMatch)

	id1, _ := reg.Resolve(Detection{Image: []byte("a"), Clarity: 100}, "34ABC123")
	id2, updated := reg.Resolve(Detection{Image: []byte("b"), Clarity: 100}, "06XYZ77")

	assert.NotEqual(t, id1, id2)
	assert.False(t, updated)
	assert.Equal(t, 2, reg.Count())
}

func TestResolveFirstVisualMatchWins(t *testing.T) {
	reg := NewRegistry(alwaysMatch)

	// Two seeded identities; text keeps them from merging with each other.
	id1, _ := reg.Resolve(Detection{Image: []byte("a"), Clarity: 100}, "34ABC123")
	reg.Resolve(Detection{Image: []byte("b"), Clarity: 100}, "06XYZ77")

	// A textless detection matches both; creation order breaks the tie.
	got, updated := reg.Resolve(Detection{Image: []byte("c"), Clarity: 50}, "")
	assert.Equal(t, id1, got)
	assert.True(t, updated)
}

func TestResolveKeepsTextOnTextlessReplacement(t *testing.T) {
	reg := NewRegistry(alwaysMatch)

	id, _ := reg.Resolve(Detection{Image: []byte("a"), Clarity: 100}, "34ABC123")

	// A sharper textless sighting of the same plate replaces the image
	// but must not erase the text key.
	got, updated := reg.Resolve(Detection{Image: []byte("b"), Clarity: 300}, "")
	require.Equal(t, id, got)
	require.True(t, updated)

	p, _ := reg.Get(id)
	assert.Equal(t, []byte("b"), p.Image)
	assert.Equal(t, "34ABC123", p.Text)
}

func TestResolveNilComparerNeverMergesTextless(t *testing.T) {
	reg := NewRegistry(nil)

	id1, _ := reg.Resolve(Detection{Image: []byte("same"), Clarity: 100}, "")
	id2, updated := reg.Resolve(Detection{Image: []byte("same"), Clarity: 100}, "")

	assert.NotEqual(t, id1, id2)
	assert.False(t, updated)
}

func TestAllocateIDSharesSequenceWithResolve(t *testing.T) {
	reg := NewRegistry(neverMatch)

	assert.Equal(t, "PLATE001", reg.AllocateID())
	assert.Equal(t, 1, reg.Sequence())

	id, _ := reg.Resolve(Detection{Image: []byte("a"), Clarity: 100}, "")
	assert.Equal(t, "PLATE002", id)
	assert.Equal(t, 2, reg.Sequence())

	assert.Equal(t, "PLATE003", reg.AllocateID())
}

func TestSetText(t *testing.T) {
	reg := NewRegistry(neverMatch)

	id1, _ := reg.Resolve(Detection{Image: []byte("a"), Clarity: 100}, "")
	id2, _ := reg.Resolve(Detection{Image: []byte("b"), Clarity: 100}, "34ABC123")

	assert.True(t, reg.SetText(id1, "UNKNOWN_1"))
	p, _ := reg.Get(id1)
	assert.Equal(t, "UNKNOWN_1", p.Text)

	assert.False(t, reg.SetText(id1, "OTHER"), "text must not be overwritten")
	assert.False(t, reg.SetText(id2, "NEW"), "existing text must not be replaced")

	id3, _ := reg.Resolve(Detection{Image: []byte("c"), Clarity: 100}, "")
	assert.False(t, reg.SetText(id3, "34ABC123"), "duplicate text must be refused")
	assert.False(t, reg.SetText("PLATE999", "X1234"), "unknown id must be refused")
	assert.False(t, reg.SetText(id3, ""), "empty text must be refused")
}

func TestSetSpeed(t *testing.T) {
	reg := NewRegistry(neverMatch)
	id, _ := reg.Resolve(Detection{Image: []byte("a"), Clarity: 100}, "")

	assert.True(t, reg.SetSpeed(id, 54.0))
	p, _ := reg.Get(id)
	require.NotNil(t, p.Speed)
	assert.Equal(t, 54.0, *p.Speed)

	assert.False(t, reg.SetSpeed("PLATE999", 10))
}

func TestGetReturnsCopy(t *testing.T) {
	reg := NewRegistry(neverMatch)
	id, _ := reg.Resolve(Detection{Image: []byte("a"), Clarity: 100}, "34ABC123")

	p, _ := reg.Get(id)
	p.Text = "mutated"
	p.Clarity = 0

	fresh, _ := reg.Get(id)
	assert.Equal(t, "34ABC123", fresh.Text)
	assert.Equal(t, 100.0, fresh.Clarity)
}

func TestListReturnsCreationOrder(t *testing.T) {
	reg := NewRegistry(neverMatch)
	id1, _ := reg.Resolve(Detection{Image: []byte("a"), Clarity: 1}, "")
	id2, _ := reg.Resolve(Detection{Image: []byte("b"), Clarity: 2}, "")
	id3, _ := reg.Resolve(Detection{Image: []byte("c"), Clarity: 3}, "")

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, []string{id1, id2, id3}, []string{list[0].ID, list[1].ID, list[2].ID})
}
