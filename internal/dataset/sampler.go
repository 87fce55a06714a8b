package dataset

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"
)

type decodeJob struct {
	seq   int
	index int
}

type decoded struct {
	seq   int
	row   []float64
	label int
}

// epochOrder returns the visiting order of sample indices for one pass.
func epochOrder(n int, shuffle bool, seed int64, pass int) []int {
	if !shuffle {
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	rng := rand.New(rand.NewSource(mixSeed(seed, int64(pass), -1)))
	return rng.Perm(n)
}

// mixSeed derives an independent stream seed from the run seed, the pass
// number and a position within the pass.
func mixSeed(seed, pass, seq int64) int64 {
	x := uint64(seed)*0x9E3779B97F4A7C15 ^ uint64(pass)*0xBF58476D1CE4E5B9 ^ uint64(seq)*0x94D049BB133111EB
	x ^= x >> 31
	x *= 0xD6E8FEB86659FD93
	x ^= x >> 32
	return int64(x >> 1)
}

// stream decodes the samples of order with a fixed pool of workers and
// emits batches in order. At most window samples are in flight.
func (l *Loader) stream(ctx context.Context, pass int, order []int, out chan<- Batch) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan decodeJob)
	results := make(chan decoded, l.opts.NumWorkers)
	window := make(chan struct{}, l.opts.NumWorkers*2+l.opts.BatchSize)

	g.Go(func() error {
		defer close(jobs)
		for seq, idx := range order {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case window <- struct{}{}:
			}
			select {
			case <-gctx.Done():
				return gctx.Err()
			case jobs <- decodeJob{seq: seq, index: idx}:
			}
		}
		return nil
	})

	var workers sync.WaitGroup
	for w := 0; w < l.opts.NumWorkers; w++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for job := range jobs {
				row, err := l.load(job.index, mixSeed(l.opts.Seed, int64(pass), int64(job.seq)))
				if err != nil {
					return err
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				case results <- decoded{seq: job.seq, row: row, label: l.folder.Labels[job.index]}:
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(results)
		return nil
	})

	g.Go(func() error {
		return l.assemble(gctx, len(order), results, window, out)
	})
	return g.Wait()
}

// assemble restores sample order and groups rows into batches.
func (l *Loader) assemble(ctx context.Context, total int, results <-chan decoded, window <-chan struct{}, out chan<- Batch) error {
	pending := make(map[int]decoded)
	b := newBatchBuilder(l.opts.BatchSize, l.transform.Width())
	for next := 0; next < total; {
		d, ok := pending[next]
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case r, open := <-results:
				if !open {
					return errors.New("dataset: decode workers stopped early")
				}
				pending[r.seq] = r
			}
			continue
		}
		delete(pending, next)
		next++
		<-window
		b.add(d.row, d.label)
		if b.full() || next == total {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- b.build():
			}
		}
	}
	return nil
}
