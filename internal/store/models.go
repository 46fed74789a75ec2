package store

import (
	"time"

	"uplift/api/internal/content"
)

type Account struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Profile is one project or individual page. The content collections and the
// permission table live as document columns; everything else is relational.
// AccessSettings stays in its raw stored shape because legacy profiles may
// carry single-string thresholds that the access package expands on read.
type Profile struct {
	ID             string
	Kind           string // "project" or "individual"
	Name           string
	OwnerID        string
	Updates        []content.Item
	PrayerRequests []content.Item
	FundingNeeds   []content.Item
	ProfilePosts   []content.Item
	AccessSettings map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Member links an account to a profile with a role ("supporter" or
// "representative"). Owners are recorded on the profile row itself.
type Member struct {
	ProfileID string
	AccountID string
	Role      string
	AddedAt   time.Time
}
