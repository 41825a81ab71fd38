// Package jobstore persists audio jobs. SQLite is the default embedded
// backend; DynamoDB serves hosted deployments.
package jobstore

import "context"

// Store is CRUD over jobs keyed by id. Implementations must be safe for
// concurrent use on different ids.
type Store interface {
	// Insert stores a new job, failing with ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, job *Job) error
	// Update replaces the record and sets job.UpdatedAt to the current time.
	Update(ctx context.Context, job *Job) error
	// Get returns nil, nil when the job does not exist.
	Get(ctx context.Context, id string) (*Job, error)
	// List returns all jobs, most recently created first.
	List(ctx context.Context) ([]Job, error)
	// Delete reports whether a record existed and was removed.
	Delete(ctx context.Context, id string) (bool, error)
	Close() error
}
