package queue

import (
	"context"
	"time"

	"github.com/ankitraval/jobforge/pkg/models"
)

// Dispatcher is the task delivery abstraction. Delivery is at-least-once and
// may run arbitrarily late past notBefore; consumers must tolerate duplicates.
// Implementations must be safe for concurrent use.
type Dispatcher interface {
	// Enqueue schedules a task. A notBefore in the past (or zero) means
	// deliver as soon as possible; otherwise the task is held until due.
	Enqueue(ctx context.Context, task models.Task, notBefore time.Time) error

	// Dequeue blocks up to the given duration for the next ready task.
	// Returns (nil, nil) when the wait times out.
	Dequeue(ctx context.Context, block time.Duration) (*models.Task, error)

	// PromoteDue moves tasks whose notBefore has passed into the ready
	// queue and returns how many were promoted.
	PromoteDue(ctx context.Context, now time.Time, batch int) (int, error)

	Ping(ctx context.Context) error
}
