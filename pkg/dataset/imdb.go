package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/cyclopcam/detrain/pkg/nn"
	"github.com/cyclopcam/logs"
)

// Boxes whose edges lie within this many pixels of the image border are flagged as adhering to it
const EdgeTolerance = 1

type ImageDBOptions struct {
	Anchors     []nn.Box
	BatchSize   int
	Params      int // 4 or 8
	Encoding    nn.DeltaEncoding
	ImageWidth  int
	ImageHeight int
	Seed        int64
}

// ImageDB turns a Source into a Reader, by matching objects to anchors and
// tracking the cursor through the image set.
type ImageDB struct {
	log    logs.Log
	source Source
	opts   ImageDBOptions

	mu       sync.Mutex
	rnd      *rand.Rand
	perm     []int
	shuffled bool
	cur      int
}

func NewImageDB(log logs.Log, source Source, opts ImageDBOptions) (*ImageDB, error) {
	if source.Len() == 0 {
		return nil, errors.New("Image set is empty")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("Invalid batch size %v", opts.BatchSize)
	}
	if !nn.ValidParameterization(opts.Params) {
		return nil, fmt.Errorf("Invalid box parameterization %v", opts.Params)
	}
	if len(opts.Anchors) == 0 {
		return nil, errors.New("No anchors")
	}
	db := &ImageDB{
		log:    log,
		source: source,
		opts:   opts,
		rnd:    rand.New(rand.NewSource(opts.Seed)),
		perm:   make([]int, source.Len()),
	}
	for i := range db.perm {
		db.perm[i] = i
	}
	return db, nil
}

func (db *ImageDB) Size() int {
	return db.source.Len()
}

func (db *ImageDB) ReadBatch(shuffle, wrapAround bool) (*RawBatch, error) {
	indices := db.nextIndices(shuffle, wrapAround)
	batch := &RawBatch{}
	for _, idx := range indices {
		sample, err := db.source.Load(idx)
		if err != nil {
			return nil, err
		}
		batch.Images = append(batch.Images, sample.Image)
		batch.Annotations = append(batch.Annotations, db.annotate(idx, sample))
	}
	return batch, nil
}

func (db *ImageDB) nextIndices(shuffle, wrapAround bool) []int {
	db.mu.Lock()
	defer db.mu.Unlock()

	n := len(db.perm)
	bs := db.opts.BatchSize
	indices := make([]int, 0, bs)

	if shuffle {
		if !db.shuffled || db.cur+bs >= n {
			db.rnd.Shuffle(n, func(i, j int) { db.perm[i], db.perm[j] = db.perm[j], db.perm[i] })
			db.shuffled = true
			db.cur = 0
		}
		for i := 0; i < bs; i++ {
			indices = append(indices, db.perm[(db.cur+i)%n])
		}
		db.cur += bs
		return indices
	}

	// In order. Reset the permutation if a previous shuffle disturbed it.
	if db.shuffled {
		for i := range db.perm {
			db.perm[i] = i
		}
		db.shuffled = false
		db.cur = 0
	}

	if wrapAround {
		for i := 0; i < bs; i++ {
			indices = append(indices, (db.cur+i)%n)
		}
		db.cur = (db.cur + bs) % n
		return indices
	}

	end := min(db.cur+bs, n)
	for i := db.cur; i < end; i++ {
		indices = append(indices, i)
	}
	db.cur = end
	if db.cur >= n {
		db.cur = 0
	}
	return indices
}

func (db *ImageDB) annotate(idx int, sample *Sample) []Annotation {
	p := db.opts.Params
	boxes := make([]nn.Box, len(sample.Objects))
	for i, obj := range sample.Objects {
		boxes[i] = nn.BoxFromSlice(obj.Params)
	}
	anchors := MatchAnchors(db.opts.Anchors, boxes)

	result := make([]Annotation, 0, len(sample.Objects))
	for i, obj := range sample.Objects {
		if anchors[i] == -1 {
			db.log.Warnf("Image %v: no free anchor for object %v", idx, i)
			continue
		}
		params := make([]float32, p)
		copy(params, obj.Params)
		result = append(result, Annotation{
			Class:  obj.Class,
			Anchor: anchors[i],
			Delta:  nn.EncodeDelta(params, db.opts.Anchors[anchors[i]], db.opts.Encoding),
			Box:    params,
			Edge:   nn.EdgeAdhesion(params, db.opts.ImageWidth, db.opts.ImageHeight, EdgeTolerance),
		})
	}
	return result
}
