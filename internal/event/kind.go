// Package event models recurrence kinds as a capability set. Each Kind
// supplies the event date, due-ness, display fields, and greeting text for a
// user; new kinds are added as new variants, not branches in the scheduling
// logic.
package event

import (
	"fmt"
	"time"

	"wisher/internal/types"
	"wisher/internal/tzcal"
)

// Kind is the capability interface a recurrence kind implements.
type Kind interface {
	// Name is the stable identifier carried on the task envelope and used
	// as the delivery-ledger key.
	Name() string

	// EventDate returns the user's source calendar date for this kind
	// (YYYY-MM-DD, year ignored for matching).
	EventDate(u *types.User) string

	// IsDue reports whether this kind's occurrence is due for the user at
	// instant `now`: the occurrence falls on today in the user's timezone
	// and the target local hour has already arrived.
	IsDue(u *types.User, now time.Time) (bool, error)

	// DeliveryFields returns the denormalized display fields a task
	// envelope carries for this kind.
	DeliveryFields(u *types.User) map[string]string

	// Message renders the outbound greeting for the user.
	Message(u *types.User) string
}

// BirthdayKind is the recurring-date kind for yearly birthdays.
type BirthdayKind struct {
	// TargetHour is the local wall-clock hour deliveries aim for.
	TargetHour int
}

// Name returns the birthday kind identifier.
func (k BirthdayKind) Name() string { return types.EventKindBirthday }

// EventDate returns the user's birth date.
func (k BirthdayKind) EventDate(u *types.User) string { return u.BirthDate }

// IsDue reports whether the user's birthday falls on today in their own
// timezone and the target hour has already passed there.
func (k BirthdayKind) IsDue(u *types.User, now time.Time) (bool, error) {
	today, err := tzcal.IsTodayInTimezone(u.BirthDate, u.Timezone, now)
	if err != nil {
		return false, err
	}
	if !today {
		return false, nil
	}

	occurrence, err := tzcal.OccurrenceThisYear(u.BirthDate, u.Timezone, now)
	if err != nil {
		return false, err
	}
	target, err := tzcal.TargetInstantUTC(occurrence, u.Timezone, k.TargetHour)
	if err != nil {
		return false, err
	}

	return !target.After(now), nil
}

// DeliveryFields returns the name fields the task envelope denormalizes.
func (k BirthdayKind) DeliveryFields(u *types.User) map[string]string {
	return map[string]string{
		"full_name":  u.FullName(),
		"first_name": u.FirstName,
		"last_name":  u.LastName,
	}
}

// Message renders the birthday greeting.
func (k BirthdayKind) Message(u *types.User) string {
	return fmt.Sprintf("Hey, %s it's your birthday", u.FullName())
}

// Registry maps kind names to their implementations.
type Registry struct {
	kinds map[string]Kind
}

// NewRegistry creates a registry containing the given kinds.
func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{kinds: make(map[string]Kind, len(kinds))}
	for _, k := range kinds {
		r.kinds[k.Name()] = k
	}
	return r
}

// Get returns the kind registered under the given name.
func (r *Registry) Get(name string) (Kind, error) {
	k, ok := r.kinds[name]
	if !ok {
		return nil, fmt.Errorf("event: unknown kind %q", name)
	}
	return k, nil
}
