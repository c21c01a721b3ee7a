package domain

import "github.com/google/uuid"

const conferencePrefix = "one2many-"

// ConferenceID marks a logically active broadcast. Empty means none.
type ConferenceID string

// NewConferenceID is a tiny helper to keep id format in one place.
func NewConferenceID() ConferenceID {
	return ConferenceID(conferencePrefix + uuid.NewString())
}
