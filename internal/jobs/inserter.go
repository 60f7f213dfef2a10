package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
)

// ErrNotBound is returned when a job is inserted before the River client exists.
var ErrNotBound = errors.New("river insert not wired")

// Inserter hands out job insertion before the River client is built. Services take an
// *Inserter at construction, the workers that River needs take those services, and
// main binds the client last.
type Inserter struct {
	mu     sync.Mutex
	client *river.Client[pgx.Tx]
}

func NewInserter() *Inserter {
	return &Inserter{}
}

// Bind sets the client used for all later inserts.
func (i *Inserter) Bind(client *river.Client[pgx.Tx]) {
	i.mu.Lock()
	i.client = client
	i.mu.Unlock()
}

func (i *Inserter) get() (*river.Client[pgx.Tx], error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.client == nil {
		return nil, ErrNotBound
	}
	return i.client, nil
}

// InsertTx enqueues args inside tx. The job becomes visible only if tx commits.
func (i *Inserter) InsertTx(ctx context.Context, tx pgx.Tx, args river.JobArgs) error {
	c, err := i.get()
	if err != nil {
		return err
	}
	_, err = c.InsertTx(ctx, tx, args, nil)
	return err
}

// Insert enqueues args in its own transaction.
func (i *Inserter) Insert(ctx context.Context, args river.JobArgs) error {
	c, err := i.get()
	if err != nil {
		return err
	}
	_, err = c.Insert(ctx, args, nil)
	return err
}
