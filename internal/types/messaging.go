package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKindBirthday is the only recurrence kind currently shipped. New kinds
// register additional names; the wire format carries the name verbatim.
const EventKindBirthday = "birthday"

// DeliveryTask is the transport-queue payload for one pending delivery.
// It is created by the tick processor or the recovery sweeper, consumed
// logically once by the delivery worker, never mutated, and discarded after
// terminal processing (success or dead-letter).
//
// Display fields are denormalized at emission time to avoid a re-fetch on the
// hot path; the consumer still re-validates against the live user record
// before sending.
type DeliveryTask struct {
	TaskID  string `json:"task_id"`
	TraceID string `json:"trace_id"`

	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`

	EventKind string `json:"event_kind"`

	// OccurrenceDate is this occurrence's calendar date (YYYY-MM-DD),
	// year included.
	OccurrenceDate string `json:"occurrence_date"`

	Timezone  string    `json:"timezone"`
	TargetUTC time.Time `json:"target_utc"`
}

// Validate checks the fields the consumer cannot proceed without.
func (t *DeliveryTask) Validate() error {
	if t.UserID == "" {
		return fmt.Errorf("delivery task: missing user_id")
	}
	if t.EventKind == "" {
		return fmt.Errorf("delivery task: missing event_kind")
	}
	if _, err := time.Parse(DateLayout, t.OccurrenceDate); err != nil {
		return fmt.Errorf("delivery task: invalid occurrence_date %q: %w", t.OccurrenceDate, err)
	}
	return nil
}

// legacyDeliveryTask is the historical queue payload shape from before the
// task envelope carried an explicit occurrence date and event kind. Messages
// in this shape can still be in flight across a deploy, so the decoder keeps
// accepting it.
type legacyDeliveryTask struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
	Dob      string `json:"dob"`
	Timezone string `json:"timezone"`
}

// DecodeDeliveryTask decodes a queue message body into the canonical
// DeliveryTask shape. It is the single tagged-union decode point at the queue
// boundary: both the current envelope and the legacy shape are accepted here,
// and internal logic never branches on payload version again.
//
// For legacy payloads the occurrence date is derived from the dob month-day
// and the current year as observed in the message's own timezone, matching
// how the schedulers assign occurrence dates; the event kind defaults to
// birthday.
func DecodeDeliveryTask(body []byte, now time.Time) (DeliveryTask, error) {
	var task DeliveryTask
	if err := json.Unmarshal(body, &task); err != nil {
		return DeliveryTask{}, fmt.Errorf("delivery task: malformed payload: %w", err)
	}

	if task.UserID != "" && task.OccurrenceDate != "" {
		if err := task.Validate(); err != nil {
			return DeliveryTask{}, err
		}
		return task, nil
	}

	// Fall back to the legacy shape.
	var legacy legacyDeliveryTask
	if err := json.Unmarshal(body, &legacy); err != nil {
		return DeliveryTask{}, fmt.Errorf("delivery task: malformed payload: %w", err)
	}
	if legacy.UserID == "" {
		return DeliveryTask{}, fmt.Errorf("delivery task: missing user_id in payload")
	}

	dob, err := time.Parse(DateLayout, legacy.Dob)
	if err != nil {
		return DeliveryTask{}, fmt.Errorf("delivery task: invalid legacy dob %q: %w", legacy.Dob, err)
	}

	loc, err := time.LoadLocation(legacy.Timezone)
	if err != nil {
		return DeliveryTask{}, fmt.Errorf("delivery task: invalid legacy timezone %q: %w", legacy.Timezone, err)
	}

	// The user's zone can be on a different calendar year than UTC around
	// New Year, so the occurrence year comes from their local clock.
	occurrence := time.Date(now.In(loc).Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, time.UTC)

	task = DeliveryTask{
		UserID:         legacy.UserID,
		FullName:       legacy.FullName,
		EventKind:      EventKindBirthday,
		OccurrenceDate: occurrence.Format(DateLayout),
		Timezone:       legacy.Timezone,
	}
	if err := task.Validate(); err != nil {
		return DeliveryTask{}, err
	}
	return task, nil
}
