// Package jobs holds vpsd's scheduled background jobs.
package jobs

import (
	"context"
	"fmt"
)

// RegistrySaver is the slice of the registry the backup job needs.
type RegistrySaver interface {
	Save() error
}

// BackupJob persists the registry on a schedule, in addition to the
// persist-after-mutation writes. It papers over a mutation whose
// persist failed and was only logged.
type BackupJob struct {
	registry RegistrySaver
}

// NewBackupJob creates a new backup job
func NewBackupJob(registry RegistrySaver) *BackupJob {
	if registry == nil {
		panic("BackupJob requires a non-nil registry")
	}
	return &BackupJob{registry: registry}
}

func (j *BackupJob) Name() string {
	return "registry-backup"
}

func (j *BackupJob) Run(ctx context.Context) error {
	if err := j.registry.Save(); err != nil {
		return fmt.Errorf("periodic backup failed: %w", err)
	}
	return nil
}
