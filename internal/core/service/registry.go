package service

import (
	"context"
	"fmt"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

// Registry is the authoritative catalog of backup records. Every write to a
// given id runs under that id's lock, so read-modify-write cycles never
// interleave.
type Registry struct {
	repo  repository.BackupRepository
	locks *keyedMutex
}

func NewRegistry(repo repository.BackupRepository) *Registry {
	return &Registry{repo: repo, locks: newKeyedMutex()}
}

func (r *Registry) Create(ctx context.Context, backup *domain.BackupRecord) error {
	unlock := r.locks.Lock(backup.ID)
	defer unlock()
	return r.repo.Create(ctx, backup)
}

// Claim creates backup as the only unfinished record in the catalog.
func (r *Registry) Claim(ctx context.Context, backup *domain.BackupRecord) error {
	unlock := r.locks.Lock(backup.ID)
	defer unlock()
	return r.repo.CreateExclusive(ctx, backup)
}

// Get returns an error wrapping domain.ErrNotFound for unknown ids.
func (r *Registry) Get(ctx context.Context, id string) (*domain.BackupRecord, error) {
	return r.repo.FindByID(ctx, id)
}

// Update loads the record, applies mutate and persists the result. If mutate
// returns an error nothing is written and the error is returned as is.
func (r *Registry) Update(ctx context.Context, id string, mutate func(*domain.BackupRecord) error) (*domain.BackupRecord, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	backup, err := r.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(backup); err != nil {
		return nil, err
	}
	if err := r.repo.Update(ctx, backup); err != nil {
		return nil, fmt.Errorf("failed to persist backup %s: %w", id, err)
	}
	return backup, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()
	return r.repo.Delete(ctx, id)
}

// List returns records newest first. A limit of zero returns everything.
func (r *Registry) List(ctx context.Context, limit, offset int) ([]*domain.BackupRecord, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset cannot be negative", domain.ErrValidation)
	}
	return r.repo.List(ctx, repository.BackupFilter{Limit: limit, Offset: offset})
}

func (r *Registry) Find(ctx context.Context, filter repository.BackupFilter) ([]*domain.BackupRecord, error) {
	return r.repo.List(ctx, filter)
}

func (r *Registry) Count(ctx context.Context, filter repository.BackupFilter) (int, error) {
	return r.repo.Count(ctx, filter)
}
