package models

import "time"

// Event is a domain notification recorded on an aggregate and published
// only after the owning transaction commits.
type Event interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

type base struct {
	aggregateID string
	at          time.Time
}

func newBase(id string, at time.Time) base { return base{aggregateID: id, at: at.UTC()} }

func (b base) AggregateID() string   { return b.aggregateID }
func (b base) OccurredAt() time.Time { return b.at }

type UserRegistered struct {
	base
	Email       string
	DisplayName string
}

func (UserRegistered) EventName() string { return "user.registered" }

type ProfileUpdated struct{ base }

func (ProfileUpdated) EventName() string { return "user.profile_updated" }

type EmailChanged struct {
	base
	OldEmail string
	NewEmail string
}

func (EmailChanged) EventName() string { return "user.email_changed" }

type EmailVerified struct {
	base
	Email string
}

func (EmailVerified) EventName() string { return "user.email_verified" }

type PasswordChanged struct {
	base
	Email string
}

func (PasswordChanged) EventName() string { return "user.password_changed" }

type UserDeactivated struct{ base }

func (UserDeactivated) EventName() string { return "user.deactivated" }

type UserReactivated struct{ base }

func (UserReactivated) EventName() string { return "user.reactivated" }

type UserLockedOut struct {
	base
	Until time.Time
}

func (UserLockedOut) EventName() string { return "user.locked_out" }

func (u *User) raise(e Event) {
	u.events = append(u.events, e)
}

// PendingEvents returns the recorded, not yet published events.
func (u *User) PendingEvents() []Event {
	return u.events
}

// PullEvents returns the pending events and clears them.
func (u *User) PullEvents() []Event {
	ev := u.events
	u.events = nil
	return ev
}
