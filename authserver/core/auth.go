package core

import "time"

// User is an account known to the authentication server
type User struct {
	Username  string    // Login name, unique
	FirstName string    // Given name shown in listings
	LastName  string    // Family name shown in listings
	Email     string    // Contact address
	CreatedAt time.Time // When the account was created
}

// Session represents an authenticated user session
type Session struct {
	ID            string    // Unique session identifier
	Username      string    // Owner of the session
	IssuedAt      time.Time // When the session was created
	RefreshExpiry time.Time // When the refresh capability expires
	AccessExpiry  time.Time // When the access capability expires
	RefreshID     string    // Unique identifier for the refresh token
}
