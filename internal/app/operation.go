package app

// Operation tracks a CLI command that may mutate the object store or the
// snapshot archive. It starts in memory with ID=0; mutating commands persist
// it, and Close records its final status. Persisted operations are what
// `tasksnap history` lists.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
}

// NewOperation creates an in-memory operation that succeeds unless Fail is
// called.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation failed when err is non-nil and returns err.
func (op *Operation) Fail(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}
