// Package extensions holds the reactions registered on the event bus. Each
// extension is independent: it can fail or be replaced without affecting the
// others, and each must tolerate duplicate delivery of the same event.
package extensions

import (
	"context"

	"gridward/internal/permission/models"
	"gridward/internal/permission/store"
)

// SavingExtension persists the post-event snapshot through the repository.
// Re-saving the same snapshot is a plain overwrite, so duplicate delivery is
// harmless.
type SavingExtension struct {
	repo store.Repository
}

func NewSavingExtension(repo store.Repository) *SavingExtension {
	return &SavingExtension{repo: repo}
}

func (e *SavingExtension) Name() string { return "saving" }

func (e *SavingExtension) Apply(ctx context.Context, snapshot models.PermissionRequest, _ models.PermissionEvent) error {
	return e.repo.Save(ctx, &snapshot)
}
