package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyclopcam/detrain/pkg/dataset"
	"github.com/cyclopcam/logs"
	"golang.org/x/sync/errgroup"
)

// Producers is a pool of goroutines that read, assemble and enqueue training batches
type Producers struct {
	log      logs.Log
	reader   dataset.Reader
	asm      *Assembler
	queue    *Queue
	coord    *Coordinator
	keepProb float32
	group    *errgroup.Group
}

// StartProducers launches n producers. Each one loops until the coordinator stops,
// or the queue is closed.
// Any other error stops the coordinator, and is returned from Wait.
func StartProducers(log logs.Log, n int, reader dataset.Reader, asm *Assembler, queue *Queue, coord *Coordinator, keepProb float32) *Producers {
	p := &Producers{
		log:      log,
		reader:   reader,
		asm:      asm,
		queue:    queue,
		coord:    coord,
		keepProb: keepProb,
	}
	group, ctx := errgroup.WithContext(coord.Context())
	p.group = group
	for i := 0; i < n; i++ {
		group.Go(func() error {
			err := p.run(ctx)
			if err != nil {
				p.log.Errorf("Batch producer %v failed: %v", i, err)
				coord.RequestStop(err)
			}
			return err
		})
	}
	return p
}

// Wait blocks until every producer has exited, and returns the first error
func (p *Producers) Wait() error {
	return p.group.Wait()
}

func (p *Producers) run(ctx context.Context) error {
	for !p.coord.ShouldStop() {
		raw, err := p.reader.ReadBatch(true, true)
		if err != nil {
			return fmt.Errorf("Failed to read batch: %w", err)
		}
		batch, err := p.asm.Assemble(raw, p.keepProb)
		if err != nil {
			return fmt.Errorf("Failed to assemble batch: %w", err)
		}
		if err := p.queue.Enqueue(ctx, batch); err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
				p.coord.RequestStop(nil)
				return nil
			}
			return err
		}
	}
	return nil
}
