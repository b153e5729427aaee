package models

import "time"

// User represents an account within the Meetloop platform.
type User struct {
	ID        string
	Email     string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FollowEdge is a directed follow from FollowerID to FollowedID.
type FollowEdge struct {
	FollowerID string
	FollowedID string
	CreatedAt  time.Time
}

// RequestStatus is the lifecycle state of a friend request row.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestDeclined  RequestStatus = "declined"
	RequestCancelled RequestStatus = "cancelled"
)

// Valid reports whether s is one of the known request statuses.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestAccepted, RequestDeclined, RequestCancelled:
		return true
	}
	return false
}

// FriendRequest represents the invitation workflow between two users.
type FriendRequest struct {
	ID          string
	InviterID   string
	InviteeID   string
	Status      RequestStatus
	CreatedAt   time.Time
	RespondedAt *time.Time
}

// Involves reports whether the request connects a and b in either direction.
func (r FriendRequest) Involves(a, b string) bool {
	return (r.InviterID == a && r.InviteeID == b) || (r.InviterID == b && r.InviteeID == a)
}

// SessionTokens groups the bearer credentials issued to authenticated users.
type SessionTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}
