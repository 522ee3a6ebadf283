package models

import (
	"strings"
	"time"
)

// UserType represents the role of a user at the event
type UserType string

const (
	UserTypePlayer    UserType = "player"
	UserTypeCoach     UserType = "coach"
	UserTypeSpectator UserType = "spectator"
	UserTypeAttendant UserType = "attendant"
	UserTypeOrga      UserType = "orga"
)

// UserAge distinguishes minors, who need an attendant
type UserAge string

const (
	UserAgeChild UserAge = "child"
	UserAgeAdult UserAge = "adult"
)

// User represents a registered participant
type User struct {
	ID          string    `json:"id" db:"id"`
	Username    *string   `json:"username,omitempty" db:"username"`
	Firstname   string    `json:"firstname" db:"firstname"`
	Lastname    string    `json:"lastname" db:"lastname"`
	Email       *string   `json:"email,omitempty" db:"email"`
	Type        UserType  `json:"type" db:"type"`
	Age         UserAge   `json:"age" db:"age"`
	TeamID      *string   `json:"teamId,omitempty" db:"team_id"`
	AttendantID *string   `json:"attendantId,omitempty" db:"attendant_id"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// IsChild returns true if the user is a minor
func (u *User) IsChild() bool {
	return u.Age == UserAgeChild
}

// HasAttendant returns true if an attendant is already registered
func (u *User) HasAttendant() bool {
	return u.AttendantID != nil
}

// InTeam returns true if the user belongs to the given team
func (u *User) InTeam(teamID string) bool {
	return u.TeamID != nil && *u.TeamID == teamID
}

// EmailDomain returns the lower cased domain of the user's email
func (u *User) EmailDomain() string {
	if u.Email == nil {
		return ""
	}
	at := strings.LastIndex(*u.Email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower((*u.Email)[at+1:])
}

// DisplayName returns "Firstname Lastname"
func (u *User) DisplayName() string {
	return strings.TrimSpace(u.Firstname + " " + u.Lastname)
}

// Team groups players of a tournament
type Team struct {
	ID           string     `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	TournamentID string     `json:"tournamentId" db:"tournament_id"`
	LockedAt     *time.Time `json:"lockedAt,omitempty" db:"locked_at"`
}

// IsLocked returns true once the team has secured its place
func (t *Team) IsLocked() bool {
	return t.LockedAt != nil
}

// Tournament is a competition with a fixed number of team slots
type Tournament struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	MaxTeams    int    `json:"maxTeams" db:"max_teams"`
	LockedTeams int    `json:"lockedTeams" db:"-"`
}

// PlacesLeft returns the number of teams that can still lock
func (t *Tournament) PlacesLeft() int {
	left := t.MaxTeams - t.LockedTeams
	if left < 0 {
		return 0
	}
	return left
}

// AttendantRequest carries the identity of an attendant to create
type AttendantRequest struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

// Validate validates the attendant identity
func (a *AttendantRequest) Validate() error {
	if strings.TrimSpace(a.Firstname) == "" || strings.TrimSpace(a.Lastname) == "" {
		return ErrInvalidInput.WithDetail("attendant firstname and lastname are required")
	}
	if len(a.Firstname) > 255 || len(a.Lastname) > 255 {
		return ErrInvalidInput.WithDetail("attendant name is too long")
	}
	return nil
}
