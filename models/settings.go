package models

import (
	"fmt"
	"time"
)

// Field names one of the three service toggles
type Field string

const (
	FieldAppointment  Field = "appointment"
	FieldPickup       Field = "pickup"
	FieldSpeakToHuman Field = "speakToHuman"
)

// Fields lists the toggles in display order
var Fields = []Field{FieldAppointment, FieldPickup, FieldSpeakToHuman}

// ParseField validates a field name coming from a URL or form
func ParseField(name string) (Field, error) {
	for _, f := range Fields {
		if string(f) == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown settings field %q", name)
}

// Settings is the single global service toggle record
type Settings struct {
	Appointment  bool `json:"appointment"`
	Pickup       bool `json:"pickup"`
	SpeakToHuman bool `json:"speakToHuman"`
}

// Get returns the value of the named field
func (s Settings) Get(f Field) bool {
	switch f {
	case FieldAppointment:
		return s.Appointment
	case FieldPickup:
		return s.Pickup
	case FieldSpeakToHuman:
		return s.SpeakToHuman
	}
	return false
}

// With returns a copy of s with the named field set to v
func (s Settings) With(f Field, v bool) Settings {
	switch f {
	case FieldAppointment:
		s.Appointment = v
	case FieldPickup:
		s.Pickup = v
	case FieldSpeakToHuman:
		s.SpeakToHuman = v
	}
	return s
}

// Diff returns the fields whose values differ between s and other
func (s Settings) Diff(other Settings) []Field {
	var changed []Field
	for _, f := range Fields {
		if s.Get(f) != other.Get(f) {
			changed = append(changed, f)
		}
	}
	return changed
}

// SettingsPayload is the wire shape of a settings record where any field may be absent
type SettingsPayload struct {
	Appointment  *bool `json:"appointment,omitempty"`
	Pickup       *bool `json:"pickup,omitempty"`
	SpeakToHuman *bool `json:"speakToHuman,omitempty"`
}

// Normalize coerces absent fields to false
func (p SettingsPayload) Normalize() Settings {
	return Settings{
		Appointment:  p.Appointment != nil && *p.Appointment,
		Pickup:       p.Pickup != nil && *p.Pickup,
		SpeakToHuman: p.SpeakToHuman != nil && *p.SpeakToHuman,
	}
}

// UpdateResponse is returned by the settings update endpoints
type UpdateResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message,omitempty"`
	Settings *SettingsPayload `json:"settings,omitempty"`
}

// StoredSettings is a settings record with its persistence metadata
type StoredSettings struct {
	Settings
	UpdatedAt time.Time `json:"updatedAt"`
}

// ToPayload converts a complete record to its wire shape
func (s Settings) ToPayload() *SettingsPayload {
	a, p, h := s.Appointment, s.Pickup, s.SpeakToHuman
	return &SettingsPayload{Appointment: &a, Pickup: &p, SpeakToHuman: &h}
}
