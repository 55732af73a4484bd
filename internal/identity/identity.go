// Package identity models how the to-do application assigns task ids.
//
// Ids are sequential and 1-based within one scenario's store, and are never
// reused or renumbered after a deletion. A Tracker records creates, toggles and
// deletes as the scenario issues them, so later steps can address "the Nth
// created task" regardless of what the list currently looks like.
package identity

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusCompleted  Status = "completed"
	StatusDeleted    Status = "deleted"
)

// Task is the tracker's projection of one created task.
type Task struct {
	ID     int
	Text   string
	Status Status
}

var (
	// ErrNotCreated is returned when a task index refers to a create that has
	// not happened yet in this scenario.
	ErrNotCreated = errors.New("task not created")

	// ErrUnsupportedTransition is returned for a state change the model does
	// not allow (toggling a deleted task, deleting twice, or un-completing a
	// task when that is disabled).
	ErrUnsupportedTransition = errors.New("unsupported task transition")
)

// Tracker is the per-scenario identity model. The zero value is ready to use
// with one-directional toggles. It is not safe for concurrent use; each
// scenario owns its own Tracker.
type Tracker struct {
	// AllowUncomplete permits completed -> incomplete on toggle.
	AllowUncomplete bool

	tasks []Task
}

// New returns an empty tracker.
func New(allowUncomplete bool) *Tracker {
	return &Tracker{AllowUncomplete: allowUncomplete}
}

// Created returns the number of creates recorded so far.
func (t *Tracker) Created() int {
	return len(t.tasks)
}

// NextID returns the id the application will assign to the next created task.
func (t *Tracker) NextID() int {
	return len(t.tasks) + 1
}

// RecordCreate records a successful create and returns the assigned id.
func (t *Tracker) RecordCreate(text string) int {
	id := t.NextID()
	t.tasks = append(t.tasks, Task{ID: id, Text: text, Status: StatusIncomplete})
	return id
}

// IDFor returns the id of the nth created task. Deleted tasks keep their id
// so that their absence can still be asserted.
func (t *Tracker) IDFor(n int) (int, error) {
	if n < 1 || n > len(t.tasks) {
		return 0, fmt.Errorf("task %d: %w (%d created)", n, ErrNotCreated, len(t.tasks))
	}
	return t.tasks[n-1].ID, nil
}

// Task returns the projection of the nth created task.
func (t *Tracker) Task(n int) (Task, error) {
	if _, err := t.IDFor(n); err != nil {
		return Task{}, err
	}
	return t.tasks[n-1], nil
}

// CheckToggle reports whether the nth task can be toggled without changing
// the tracker.
func (t *Tracker) CheckToggle(n int) error {
	task, err := t.Task(n)
	if err != nil {
		return err
	}
	switch task.Status {
	case StatusIncomplete:
		return nil
	case StatusCompleted:
		if t.AllowUncomplete {
			return nil
		}
		return fmt.Errorf("task %d: %w: completed -> incomplete", n, ErrUnsupportedTransition)
	default:
		return fmt.Errorf("task %d: %w: toggle of %s task", n, ErrUnsupportedTransition, task.Status)
	}
}

// RecordToggle flips the nth task from incomplete to completed.
func (t *Tracker) RecordToggle(n int) error {
	if err := t.CheckToggle(n); err != nil {
		return err
	}

	task := &t.tasks[n-1]
	if task.Status == StatusIncomplete {
		task.Status = StatusCompleted
	} else {
		task.Status = StatusIncomplete
	}
	return nil
}

// CheckDelete reports whether the nth task can be deleted.
func (t *Tracker) CheckDelete(n int) error {
	task, err := t.Task(n)
	if err != nil {
		return err
	}
	if task.Status == StatusDeleted {
		return fmt.Errorf("task %d: %w: already deleted", n, ErrUnsupportedTransition)
	}
	return nil
}

// RecordDelete removes the nth task. Its id stays reserved.
func (t *Tracker) RecordDelete(n int) error {
	if err := t.CheckDelete(n); err != nil {
		return err
	}
	t.tasks[n-1].Status = StatusDeleted
	return nil
}

// Tasks returns the live (not deleted) tasks in creation order.
func (t *Tracker) Tasks() []Task {
	out := make([]Task, 0, len(t.tasks))
	for _, task := range t.tasks {
		if task.Status != StatusDeleted {
			out = append(out, task)
		}
	}
	return out
}

// Count returns how many tracked tasks are in the given status.
func (t *Tracker) Count(status Status) int {
	n := 0
	for _, task := range t.tasks {
		if task.Status == status {
			n++
		}
	}
	return n
}

// Reset forgets every task. The next create is id 1 again.
func (t *Tracker) Reset() {
	t.tasks = nil
}
