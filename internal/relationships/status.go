// Package relationships resolves and caches the relationship between a viewer
// and other users, and applies relationship-changing commands optimistically.
package relationships

// Status is the single relationship that holds for an ordered (viewer, target) pair.
type Status string

const (
	StatusNone            Status = "none"
	StatusFollowing       Status = "following"
	StatusFollowedBy      Status = "followed_by"
	StatusFriends         Status = "friends"
	StatusRequestSent     Status = "request_sent"
	StatusRequestReceived Status = "request_received"
)

// Statuses lists every status in a stable order.
var Statuses = []Status{
	StatusNone,
	StatusFollowing,
	StatusFollowedBy,
	StatusFriends,
	StatusRequestSent,
	StatusRequestReceived,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Relationship is a resolved status plus the pending request id that accept,
// decline and cancel operate on.
type Relationship struct {
	Status    Status `json:"status"`
	RequestID string `json:"requestId,omitempty"`
}

// HasPendingRequest reports whether the status carries a request id.
func (s Status) HasPendingRequest() bool {
	return s == StatusRequestSent || s == StatusRequestReceived
}

// normalize drops a request id that does not belong to the status and maps
// unknown statuses to none.
func (r Relationship) normalize() Relationship {
	if !r.Status.Valid() {
		return Relationship{Status: StatusNone}
	}
	if !r.Status.HasPendingRequest() {
		r.RequestID = ""
	}
	return r
}

func none() Relationship {
	return Relationship{Status: StatusNone}
}
