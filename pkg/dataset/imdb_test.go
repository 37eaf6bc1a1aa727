package dataset

import (
	"testing"

	"github.com/cyclopcam/detrain/pkg/nn"
	"github.com/cyclopcam/detrain/pkg/tensor"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func testAnchors() []nn.Box {
	anchors := []nn.Box{}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			anchors = append(anchors, nn.Box{CX: float32(x*16 + 8), CY: float32(y*16 + 8), W: 16, H: 16})
		}
	}
	return anchors
}

func testSource(n int) *MemorySource {
	samples := []*Sample{}
	for i := 0; i < n; i++ {
		img := tensor.NewImage(64, 64)
		img.Set(0, 0, 0, float32(i))
		samples = append(samples, &Sample{
			Image: img,
			Objects: []Object{
				{Class: i % 3, Params: []float32{8, 8, 16, 16}},
				{Class: 0, Params: []float32{40, 40, 10, 12}},
			},
		})
	}
	return NewMemorySource(samples)
}

func newTestDB(t *testing.T, n, batchSize int) *ImageDB {
	db, err := NewImageDB(logs.NewTestingLog(t), testSource(n), ImageDBOptions{
		Anchors:     testAnchors(),
		BatchSize:   batchSize,
		Params:      4,
		Encoding:    nn.EncodingNormal,
		ImageWidth:  64,
		ImageHeight: 64,
		Seed:        1,
	})
	require.NoError(t, err)
	return db
}

func imageIDs(b *RawBatch) []int {
	ids := []int{}
	for _, img := range b.Images {
		ids = append(ids, int(img.At(0, 0, 0)))
	}
	return ids
}

func TestReadBatchSinglePass(t *testing.T) {
	db := newTestDB(t, 10, 4)
	require.Equal(t, 10, db.Size())

	b, err := db.ReadBatch(false, false)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, imageIDs(b))
	b, _ = db.ReadBatch(false, false)
	require.Equal(t, []int{4, 5, 6, 7}, imageIDs(b))
	b, _ = db.ReadBatch(false, false)
	require.Equal(t, []int{8, 9}, imageIDs(b))

	// Next pass starts from the beginning
	b, _ = db.ReadBatch(false, false)
	require.Equal(t, []int{0, 1, 2, 3}, imageIDs(b))
}

func TestReadBatchWrapAround(t *testing.T) {
	db := newTestDB(t, 5, 4)
	b, _ := db.ReadBatch(false, true)
	require.Equal(t, []int{0, 1, 2, 3}, imageIDs(b))
	b, _ = db.ReadBatch(false, true)
	require.Equal(t, []int{4, 0, 1, 2}, imageIDs(b))
}

func TestReadBatchShuffle(t *testing.T) {
	db := newTestDB(t, 10, 4)
	seen := map[int]int{}
	for i := 0; i < 2; i++ {
		b, err := db.ReadBatch(true, true)
		require.NoError(t, err)
		require.Equal(t, 4, b.NumImages())
		for _, id := range imageIDs(b) {
			seen[id]++
		}
	}
	// Within one epoch, no image repeats
	for id, n := range seen {
		require.Equal(t, 1, n, "image %v", id)
	}
}

func TestAnnotations(t *testing.T) {
	db := newTestDB(t, 3, 3)
	b, err := db.ReadBatch(false, false)
	require.NoError(t, err)
	require.Equal(t, 6, b.NumAnnotations())
	a := b.Annotations[2][0]
	require.Equal(t, 2, a.Class)
	require.Equal(t, 0, a.Anchor)
	require.Equal(t, []float32{0, 0, 0, 0}, a.Delta)
	require.Equal(t, []bool{true, true, false, false}, a.Edge)
	require.Len(t, b.Annotations[2][1].Delta, 4)
}
