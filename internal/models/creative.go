package models

import "time"

// CreativeStatus is the lifecycle of an ad creative. The experiment engine
// promotes winners to active and archives losers; nothing else in this
// service writes creative state.
type CreativeStatus string

const (
	CreativeDraft    CreativeStatus = "draft"
	CreativeActive   CreativeStatus = "active"
	CreativeArchived CreativeStatus = "archived"
)

// Creative is an ad creative referenced by experiment variants.
type Creative struct {
	ID         string         `json:"id" db:"id"`
	Name       string         `json:"name" db:"name"`
	Headline   string         `json:"headline" db:"headline"`
	Body       string         `json:"body" db:"body"`
	MediaURL   string         `json:"media_url" db:"media_url"`
	LandingURL string         `json:"landing_url" db:"landing_url"`
	Status     CreativeStatus `json:"status" db:"status"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}
