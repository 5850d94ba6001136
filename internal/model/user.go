// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents an account created by the sign-in collaborator.
//
// GitHubID is the external account id and is unique. The internal ID is an
// xid so primary keys are not tied to the source host's numbering.
//
// SealedToken holds the user's source-host OAuth token, encrypted with
// auth.Sealer. It never leaves the server: the json tag hides it, and only the
// auth middleware and background workers open it.
type User struct {
	ID          string    `json:"id"         db:"id"`
	GitHubID    int64     `json:"github_id"  db:"github_id"`
	Login       string    `json:"login"      db:"login"`
	Name        string    `json:"name"       db:"name"`       // display name, may be empty
	Email       string    `json:"email"      db:"email"`      // primary public email, may be empty
	AvatarURL   string    `json:"avatar_url" db:"avatar_url"`
	SealedToken string    `json:"-"          db:"sealed_token"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayName returns the name to show for the user, falling back to the login.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Login
}
