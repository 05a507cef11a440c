package model

import "time"

// ContactActivity aggregates the user's message history with one contact.
type ContactActivity struct {
	Email           string      `json:"email"`
	Name            string      `json:"name,omitempty"`
	Sent            int         `json:"sent"`     // user -> contact
	Received        int         `json:"received"` // contact -> user
	Replied         int         `json:"replied"`  // contact replies to user's messages
	FirstContact    time.Time   `json:"first_contact"`
	LastContact     time.Time   `json:"last_contact"`
	Dates           []time.Time `json:"-"`
	RecipientCounts []int       `json:"-"`
}

// Total returns every message exchanged in either direction.
func (a *ContactActivity) Total() int { return a.Sent + a.Received }

// HasReplied reports whether the contact ever wrote to the user.
func (a *ContactActivity) HasReplied() bool { return a.Received > 0 }

// Observe folds one message into the aggregate.
func (a *ContactActivity) Observe(date time.Time, outbound bool, recipients int) {
	if outbound {
		a.Sent++
	} else {
		a.Received++
	}
	if a.FirstContact.IsZero() || date.Before(a.FirstContact) {
		a.FirstContact = date
	}
	if date.After(a.LastContact) {
		a.LastContact = date
	}
	a.Dates = append(a.Dates, date)
	a.RecipientCounts = append(a.RecipientCounts, recipients)
}
