package models

import "time"

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Entities tracked in SyncRun.Counts
const (
	EntityReservations = "reservations"
	EntityRates        = "rates"
	EntityAvailability = "availability"
)

// Steps of a sync run
const (
	StepPull         = "pull_reservations"
	StepPushRates    = "push_rates"
	StepPushAvail    = "push_availability"
	StepConfirmation = "confirmation"
	StepSetup        = "setup"
)

type Counts struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// RunError is one entry of a run's error list
type RunError struct {
	Step    string `json:"step"`
	Kind    string `json:"kind"`
	Ref     string `json:"ref,omitempty"` // external reservation id, when the error is per-record
	Message string `json:"message"`
}

// SyncRun is one pull/push cycle of a single channel.
// It is never mutated after FinishedAt is set.
type SyncRun struct {
	ID         string            `json:"id" db:"id"`
	ChannelID  string            `json:"channel_id" db:"channel_id"`
	StartedAt  time.Time         `json:"started_at" db:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty" db:"finished_at"`
	Status     RunStatus         `json:"status,omitempty" db:"status"`
	Counts     map[string]Counts `json:"counts" db:"counts"`
	Errors     []RunError        `json:"errors" db:"errors"`
}

func (r *SyncRun) Finished() bool {
	return r.FinishedAt != nil
}
