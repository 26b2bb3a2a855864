// Package command defines the message carried on the command queue between
// the API producer and the worker.
//
// A command is self-contained: the worker applies it using only its fields
// and the ledger.
package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpToggle Operation = "toggle"
	OpDelete Operation = "delete"
)

var (
	ErrInvalidMessage   = errors.New("invalid command message")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMissingField     = errors.New("missing required field")
)

func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpToggle, OpDelete:
		return true
	default:
		return false
	}
}

func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
	}
	return op, nil
}

// Command is the JSON wire form of one mutation request.
// ItemID and Title are pointers so that absent fields survive a round trip.
type Command struct {
	JobID     uuid.UUID  `json:"job_id"`
	Operation Operation  `json:"operation"`
	ItemID    *uuid.UUID `json:"item_id,omitempty"`
	Title     *string    `json:"title,omitempty"`
}

func NewCreate(jobID, itemID uuid.UUID, title string) Command {
	return Command{JobID: jobID, Operation: OpCreate, ItemID: &itemID, Title: &title}
}

func NewToggle(jobID, itemID uuid.UUID) Command {
	return Command{JobID: jobID, Operation: OpToggle, ItemID: &itemID}
}

func NewDelete(jobID, itemID uuid.UUID) Command {
	return Command{JobID: jobID, Operation: OpDelete, ItemID: &itemID}
}

// Validate checks the operation and the fields it requires.
func (c Command) Validate() error {
	if c.JobID == uuid.Nil {
		return fmt.Errorf("%w: job_id", ErrMissingField)
	}
	switch c.Operation {
	case OpCreate:
		if c.ItemID == nil {
			return fmt.Errorf("%w: item_id", ErrMissingField)
		}
		if c.Title == nil {
			return fmt.Errorf("%w: title", ErrMissingField)
		}
	case OpToggle, OpDelete:
		if c.ItemID == nil {
			return fmt.Errorf("%w: item_id", ErrMissingField)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperation, c.Operation)
	}
	return nil
}

// Encode validates and marshals a command.
func Encode(c Command) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(c)
}

// Decode unmarshals a command without validating it, so callers can still
// learn the job id of a malformed command.
func Decode(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return c, nil
}

// IsPermanent reports whether err describes a command that can never be applied.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, ErrUnknownOperation) ||
		errors.Is(err, ErrMissingField)
}
