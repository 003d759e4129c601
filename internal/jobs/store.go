package jobs

import "context"

// Store persists job records so the registry survives restarts.
type Store interface {
	LoadJobs(ctx context.Context) ([]*Record, error)
	UpsertJob(ctx context.Context, rec *Record) error
	DeleteJob(ctx context.Context, jobID string) error
}
