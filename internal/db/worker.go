package db

import (
	"context"
	"database/sql"
	"errors"
)

// ErrWorkerClosed is returned by Do after Close.
var ErrWorkerClosed = errors.New("db worker closed")

type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx context.Context
	fn  TxFn
	ch  chan error
}

// Worker serializes write transactions through a single goroutine. Jobs run
// in the order they were enqueued, which is what gives each exam session a
// single writer: the violation append, the per-kind count and the status
// update of one Record call can never interleave with another.
type Worker struct {
	db     *sql.DB
	jobs   chan job
	done   chan struct{}
	closed chan struct{}
}

func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:     db,
		jobs:   make(chan job, 256),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Close stops accepting jobs, drains the queue and waits for the loop.
// Safe to call more than once.
func (w *Worker) Close() {
	select {
	case <-w.closed:
	default:
		close(w.closed)
		close(w.jobs)
	}
	<-w.done
}

func (w *Worker) Do(ctx context.Context, fn TxFn) (err error) {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	// A send on a closed jobs channel panics; turn that race into an error.
	defer func() {
		if recover() != nil {
			err = ErrWorkerClosed
		}
	}()

	select {
	case <-w.closed:
		return ErrWorkerClosed
	default:
	}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	// The loop still finishes a job whose caller gave up; the result lands in
	// the buffered ch and is discarded.
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		j.ch <- w.run(j)
	}
}

func (w *Worker) run(j job) error {
	if err := j.ctx.Err(); err != nil {
		return err
	}

	tx, err := w.db.BeginTx(j.ctx, nil)
	if err != nil {
		return err
	}
	if err := j.fn(j.ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
