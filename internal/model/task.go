package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TaskState string

const (
	TaskNew        TaskState = "new"
	TaskInProgress TaskState = "in_progress"
	TaskFinished   TaskState = "finished"
	TaskFailed     TaskState = "failed"
	TaskRetried    TaskState = "retried"
)

// Pending reports whether the task is waiting to be claimed.
func (s TaskState) Pending() bool {
	return s == TaskNew || s == TaskRetried
}

func (s TaskState) Terminal() bool {
	return s == TaskFinished || s == TaskFailed
}

func (s TaskState) Valid() bool {
	switch s {
	case TaskNew, TaskInProgress, TaskFinished, TaskFailed, TaskRetried:
		return true
	}
	return false
}

type TaskKind string

// KindPresaleReserve waits for a sale to open and reserves variants for every task account.
const KindPresaleReserve TaskKind = "presale_reserve"

type TaskOptions struct {
	// TargetPrice is in major currency units; variant prices are in minor units.
	TargetPrice      *decimal.Decimal `json:"targetPrice,omitempty"`
	TargetName       string           `json:"targetName,omitempty"`
	UseRegex         bool             `json:"useRegex"`
	IgnoreMembership bool             `json:"ignoreMembership"`
}

type Task struct {
	ID         string      `json:"id"`
	SaleID     string      `json:"saleId"`
	Kind       TaskKind    `json:"kind"`
	AccountIDs []string    `json:"accountIds"`
	SaleStart  time.Time   `json:"saleStart"`
	FireAt     time.Time   `json:"fireAt"`
	Options    TaskOptions `json:"options"`
	State      TaskState   `json:"state"`
	Attempts   int         `json:"attempts"`
	MaxRetries int         `json:"maxRetries"`
	LastError  string      `json:"lastError,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Envelope is the persisted form of a task's kind-specific parameters.
type Envelope struct {
	Kind   TaskKind        `json:"kind"`
	Params json.RawMessage `json:"params"`
}

type presaleReserveParams struct {
	AccountIDs []string    `json:"accountIds"`
	SaleStart  time.Time   `json:"saleStart"`
	Options    TaskOptions `json:"options"`
}

// Envelope serializes the kind-specific fields of t.
func (t Task) Envelope() (Envelope, error) {
	switch t.Kind {
	case KindPresaleReserve:
		accounts := t.AccountIDs
		if accounts == nil {
			accounts = []string{}
		}
		b, err := json.Marshal(presaleReserveParams{
			AccountIDs: accounts,
			SaleStart:  t.SaleStart.UTC(),
			Options:    t.Options,
		})
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Kind: t.Kind, Params: b}, nil
	default:
		return Envelope{}, fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

// Apply copies the envelope parameters into t.
func (e Envelope) Apply(t *Task) error {
	t.Kind = e.Kind
	switch e.Kind {
	case KindPresaleReserve:
		var p presaleReserveParams
		if err := json.Unmarshal(e.Params, &p); err != nil {
			return fmt.Errorf("decode %s params: %w", e.Kind, err)
		}
		t.AccountIDs = p.AccountIDs
		t.SaleStart = p.SaleStart
		t.Options = p.Options
		return nil
	default:
		return fmt.Errorf("unknown task kind %q", e.Kind)
	}
}
