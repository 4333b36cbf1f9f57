// Package model defines domain entities shared by the session manager, the
// relay client and the relay server.
package model

import (
	"strconv"
	"strings"
	"time"
)

// Envelope is the opaque encrypted form of a session as produced by secretbox.
// The relay stores and forwards envelopes without ever decrypting them.
type Envelope string

// Credentials is the shared secret pair for one family. FamilyKey is
// deliberately dual-purpose: it is the human-facing join credential and the
// password the encryption key is derived from. Anyone who can join can
// decrypt; nothing else is needed.
type Credentials struct {
	FamilyID  string `json:"familyId"`
	FamilyKey string `json:"familyKey"`
}

// LastUsed is the per-device "last active credentials" pointer persisted for
// auto-rejoin at startup.
type LastUsed struct {
	FamilyID   string `json:"familyId"`
	FamilyKey  string `json:"familyKey"`
	MemberName string `json:"memberName"`
}

// RestaurantSource records how a restaurant entered a member's favorites.
type RestaurantSource string

const (
	SourceFavorite RestaurantSource = "favorite"
	SourceSearch   RestaurantSource = "search"
	SourceRoulette RestaurantSource = "roulette"
)

// Restaurant is a place or cuisine suggestion endorsed by a member.
// Immutable once attached to a favorites list except by explicit removal.
type Restaurant struct {
	Name    string           `json:"name"`
	Cuisine string           `json:"cuisine,omitempty"`
	Rating  float64          `json:"rating,omitempty"`
	Address string           `json:"address,omitempty"`
	MapURL  string           `json:"mapUrl,omitempty"`
	Source  RestaurantSource `json:"source"`
}

// FamilyMember is one participant's profile within a session.
type FamilyMember struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	AvatarColor         string       `json:"avatarColor"`
	DietaryRestrictions []string     `json:"dietaryRestrictions"`
	CuisinePreferences  []string     `json:"cuisinePreferences"`
	FlavorPreferences   []string     `json:"flavorPreferences"`
	Favorites           []Restaurant `json:"favorites"`

	// IsCurrentUser marks which member entry is the local device's active
	// identity. Per-device, not a security boundary: any holder of the
	// family key can claim any name by joining as it.
	IsCurrentUser bool `json:"isCurrentUser"`
}

// FamilySession is the root shared document. One encrypted blob exists per
// FamilyID at any time; the latest successful save fully replaces prior state.
type FamilySession struct {
	FamilyID   string         `json:"familyId"`
	FamilyName string         `json:"familyName"`
	FamilyKey  string         `json:"familyKey"`
	Members    []FamilyMember `json:"members"`

	// LastUpdated is wall-clock milliseconds stamped on every save.
	// Display and debugging only, never used for conflict resolution.
	LastUpdated int64 `json:"lastUpdated"`
}

// avatarColors is cycled round-robin as members are created.
var avatarColors = []string{
	"#e07a5f", "#3d8f5f", "#5f7ae0", "#d4a017",
	"#a05fb8", "#2a9d8f", "#c94f4f", "#6d8a3c",
}

// AvatarColor returns the round-robin color for the i-th member.
func AvatarColor(i int) string {
	if i < 0 {
		i = 0
	}
	return avatarColors[i%len(avatarColors)]
}

// NewMember constructs a member with a time-based id and the round-robin
// avatar color for position i. Preference slices start empty, not nil, so
// the JSON form round-trips as [] rather than null.
func NewMember(name string, i int, now time.Time) FamilyMember {
	return FamilyMember{
		ID:                  strconv.FormatInt(now.UnixNano(), 10),
		Name:                name,
		AvatarColor:         AvatarColor(i),
		DietaryRestrictions: []string{},
		CuisinePreferences:  []string{},
		FlavorPreferences:   []string{},
		Favorites:           []Restaurant{},
	}
}

// FindMember returns the index of the member whose name matches
// case-insensitively, or -1. Name is the de-duplication key on re-join.
func (s *FamilySession) FindMember(name string) int {
	for i := range s.Members {
		if strings.EqualFold(s.Members[i].Name, name) {
			return i
		}
	}
	return -1
}

// SetCurrentUser flips IsCurrentUser on for the member at index i and off
// for everyone else ("this device is now X").
func (s *FamilySession) SetCurrentUser(i int) {
	for j := range s.Members {
		s.Members[j].IsCurrentUser = j == i
	}
}

// CurrentUser returns the member marked as this device's identity, or nil.
func (s *FamilySession) CurrentUser() *FamilyMember {
	for i := range s.Members {
		if s.Members[i].IsCurrentUser {
			return &s.Members[i]
		}
	}
	return nil
}
