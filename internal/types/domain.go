// Package types defines the shared domain entities, message envelopes, and
// error vocabulary for the wisher platform. It has no dependencies on other
// internal packages so that every component can import it freely.
package types

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date wire format used everywhere a date crosses
// a boundary (API payloads, DynamoDB attributes, queue messages).
const DateLayout = "2006-01-02"

// MonthDayLayout is the year-independent projection of a calendar date used
// as the recurrence index key.
const MonthDayLayout = "01-02"

// User is the core domain entity: a person who receives a greeting once per
// yearly occurrence of their event date, at the configured hour in their own
// timezone.
//
// The record is exclusively owned by the user store. The scheduling core only
// reads it and performs conditional updates to the delivery-marker map.
type User struct {
	ID        string `json:"id" dynamodbav:"id"`
	FirstName string `json:"first_name" dynamodbav:"first_name"`
	LastName  string `json:"last_name" dynamodbav:"last_name"`
	Email     string `json:"email,omitempty" dynamodbav:"email,omitempty"`

	// BirthDate is the full calendar date (YYYY-MM-DD). The year component
	// is retained for display but ignored for recurrence matching.
	BirthDate string `json:"birth_date" dynamodbav:"birth_date"`

	// Timezone is the IANA zone name (e.g. "Asia/Ho_Chi_Minh") used to
	// resolve the local delivery hour.
	Timezone string `json:"timezone" dynamodbav:"timezone"`

	// BirthMonthDay is the derived MM-DD recurrence key. It is recomputed
	// on every write that touches BirthDate and backs the secondary index.
	BirthMonthDay string `json:"birth_month_day" dynamodbav:"birth_month_day"`

	// Deliveries is the per-event-kind delivery ledger. The pair
	// (LastDeliveredDate, LastDeliveredAt) is the exactly-once witness for
	// the most recent occurrence of each kind. The attribute is always
	// present on stored items (possibly empty) so that conditional updates
	// can address nested paths under it.
	Deliveries map[string]DeliveryMarker `json:"deliveries,omitempty" dynamodbav:"deliveries"`

	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// FullName returns the display name used in outbound greetings.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Marker returns the delivery marker for the given event kind, or a zero
// marker if none has been recorded yet.
func (u *User) Marker(kind string) DeliveryMarker {
	if u.Deliveries == nil {
		return DeliveryMarker{}
	}
	return u.Deliveries[kind]
}

// DeliveryMarker records the last successful delivery of one event kind for
// one user. The date is the exactly-once witness and is what the DynamoDB
// condition expressions compare; the timestamp is diagnostic.
type DeliveryMarker struct {
	// LastDeliveredDate is the calendar date (YYYY-MM-DD) of the delivered
	// occurrence, year included.
	LastDeliveredDate string `json:"last_delivered_date,omitempty" dynamodbav:"last_delivered_date,omitempty"`

	// LastDeliveredAt is the RFC 3339 UTC instant the delivery succeeded.
	LastDeliveredAt string `json:"last_delivered_at,omitempty" dynamodbav:"last_delivered_at,omitempty"`
}

// IsZero reports whether no delivery has ever been recorded.
func (m DeliveryMarker) IsZero() bool {
	return m.LastDeliveredDate == "" && m.LastDeliveredAt == ""
}

// DeliveredOn reports whether the marker witnesses a delivery of the given
// occurrence date. The stored date carries the year, so exact date equality
// identifies the occurrence on its own; the timestamp is informational. A
// delivery committed shortly before UTC midnight for a next-UTC-day occurrence
// (zones ahead of UTC at a year boundary) is still a valid witness. This is
// the read-side half of the exactly-once check and mirrors the store's
// conditional-update expression exactly.
func (m DeliveryMarker) DeliveredOn(occurrenceDate string) bool {
	return occurrenceDate != "" && m.LastDeliveredDate == occurrenceDate
}

// DeliverySchedule is the ephemeral, in-process product of the scheduling
// calculation. DelaySeconds is always 0 under the current tick granularity
// (the target hour has already arrived by the time it is computed); the field
// is retained to support sub-tick precision later. Never persisted.
type DeliverySchedule struct {
	User         *User
	TargetUTC    time.Time
	DelaySeconds int64
}

// Validate checks the invariants a User record must satisfy before it is
// written to the store.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("user: missing id")
	}
	if u.FirstName == "" {
		return fmt.Errorf("user: missing first_name")
	}
	if _, err := time.Parse(DateLayout, u.BirthDate); err != nil {
		return fmt.Errorf("user: invalid birth_date %q: %w", u.BirthDate, err)
	}
	if u.Timezone == "" {
		return fmt.Errorf("user: missing timezone")
	}
	if _, err := time.LoadLocation(u.Timezone); err != nil {
		return fmt.Errorf("user: invalid timezone %q: %w", u.Timezone, err)
	}
	return nil
}
