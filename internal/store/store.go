// Package store defines the persistence contract for tasks, conditions,
// month events and notification preferences.
package store

import (
	"context"
	"errors"
	"time"

	"condcal/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist for the given owner.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness rule, such
	// as a duplicate condition name for one owner.
	ErrConflict = errors.New("conflict")
)

// Store is the remote data collaborator. Every method is scoped to one
// owner except UpcomingEvents, which the notifier runs across all owners.
type Store interface {
	FetchTasks(ctx context.Context, ownerID, date string) ([]model.Task, error)
	ListTasks(ctx context.Context, ownerID string) ([]model.Task, error)
	GetTask(ctx context.Context, ownerID, id string) (model.Task, error)
	CreateTask(ctx context.Context, t model.Task) (model.Task, error)
	UpdateTask(ctx context.Context, t model.Task) (model.Task, error)
	DeleteTask(ctx context.Context, ownerID, id string) error

	FetchConditions(ctx context.Context, ownerID string) ([]model.Condition, error)
	CreateCondition(ctx context.Context, c model.Condition) (model.Condition, error)
	// RenameCondition changes a condition's name only. Tasks keep the tag
	// they were stored with.
	RenameCondition(ctx context.Context, ownerID, id, name string) (model.Condition, error)
	DeleteCondition(ctx context.Context, ownerID, id string) error

	ListEvents(ctx context.Context, ownerID string, from, to time.Time) ([]model.Event, error)
	GetEvent(ctx context.Context, ownerID, id string) (model.Event, error)
	CreateEvent(ctx context.Context, e model.Event) (model.Event, error)
	UpdateEvent(ctx context.Context, e model.Event) (model.Event, error)
	DeleteEvent(ctx context.Context, ownerID, id string) error
	UpcomingEvents(ctx context.Context, from, to time.Time) ([]model.Event, error)

	Preferences(ctx context.Context, ownerID string) (model.Preferences, error)
	SavePreferences(ctx context.Context, p model.Preferences) error

	// DeleteAccount removes every row owned by ownerID.
	DeleteAccount(ctx context.Context, ownerID string) error
}
