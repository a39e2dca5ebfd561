package app

import "time"

// Operation tracks the CLI command being run. Commands that change the
// catalog mark it dirty, and a dirty operation publishes a catalog
// snapshot when the app closes.
type Operation struct {
	ID     string // UTC start time, tags every log line
	Name   string
	Dirty  bool
	Status string // "success" or "error"
}

// NewOperation creates an operation that started at now.
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{
		ID:     now.UTC().Format("20060102T150405Z"),
		Name:   name,
		Status: "success",
	}
}

// MarkDirty records that the catalog changed.
func (op *Operation) MarkDirty() {
	op.Dirty = true
}

// Record notes the outcome of one step. Any error marks the operation
// failed; later successes do not clear it.
func (op *Operation) Record(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}
