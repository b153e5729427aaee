package relationships

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/meetloop/backend/internal/models"
)

// Command names a relationship-changing operation.
type Command string

const (
	CommandSend     Command = "send"
	CommandAccept   Command = "accept"
	CommandDecline  Command = "decline"
	CommandCancel   Command = "cancel"
	CommandUnfriend Command = "unfriend"
	CommandFollow   Command = "follow"
	CommandUnfollow Command = "unfollow"
)

// ParseCommand maps a command name to a Command.
func ParseCommand(name string) (Command, error) {
	cmd := Command(name)
	if _, ok := transitions[cmd]; !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}
	return cmd, nil
}

// Event describes a committed relationship change.
type Event struct {
	Command    Command   `json:"command"`
	ViewerID   string    `json:"viewerId"`
	TargetID   string    `json:"targetId"`
	RequestID  string    `json:"requestId,omitempty"`
	Status     Status    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}

// transition describes one command: which states it may start from, the state
// shown while the store call runs, and the store call itself.
type transition struct {
	from         []Status
	needsRequest bool
	optimistic   func(current Relationship) Relationship
	// execute returns the store's authoritative state when the call reveals
	// it. A nil result keeps the optimistic state unless reload is set.
	execute func(ctx context.Context, store Store, key PairKey, current Relationship) (*Relationship, error)
	reload  bool
}

func (t transition) permits(s Status) bool {
	return slices.Contains(t.from, s)
}

var transitions = map[Command]transition{
	CommandSend: {
		from:       []Status{StatusNone, StatusFollowedBy},
		optimistic: always(StatusRequestSent),
		execute: func(ctx context.Context, store Store, key PairKey, _ Relationship) (*Relationship, error) {
			req, err := store.CreateRequest(ctx, key.Viewer, key.Target)
			if err != nil {
				return nil, err
			}
			rel := fromRequest(key.Viewer, req)
			return &rel, nil
		},
	},
	CommandAccept: {
		from:         []Status{StatusRequestReceived},
		needsRequest: true,
		optimistic:   always(StatusFriends),
		execute: func(ctx context.Context, store Store, key PairKey, current Relationship) (*Relationship, error) {
			return nil, store.UpdateRequestStatus(ctx, key.Viewer, current.RequestID, models.RequestAccepted)
		},
	},
	CommandDecline: {
		from:         []Status{StatusRequestReceived},
		needsRequest: true,
		optimistic:   always(StatusNone),
		execute: func(ctx context.Context, store Store, key PairKey, current Relationship) (*Relationship, error) {
			return nil, store.UpdateRequestStatus(ctx, key.Viewer, current.RequestID, models.RequestDeclined)
		},
	},
	CommandCancel: {
		from:         []Status{StatusRequestSent},
		needsRequest: true,
		optimistic:   always(StatusNone),
		execute: func(ctx context.Context, store Store, key PairKey, current Relationship) (*Relationship, error) {
			return nil, store.DeleteRequest(ctx, key.Viewer, current.RequestID)
		},
	},
	CommandUnfriend: {
		from:       []Status{StatusFriends},
		optimistic: always(StatusNone),
		execute: func(ctx context.Context, store Store, key PairKey, _ Relationship) (*Relationship, error) {
			remaining, err := store.RemoveEdges(ctx, key.Viewer, key.Target)
			if err != nil {
				return nil, err
			}
			rel := Resolve(key.Viewer, key.Target, remaining, nil)
			return &rel, nil
		},
	},
	CommandFollow: {
		from: []Status{StatusNone, StatusFollowedBy},
		optimistic: func(current Relationship) Relationship {
			if current.Status == StatusFollowedBy {
				return Relationship{Status: StatusFriends}
			}
			return Relationship{Status: StatusFollowing}
		},
		execute: func(ctx context.Context, store Store, key PairKey, _ Relationship) (*Relationship, error) {
			return nil, store.CreateEdge(ctx, key.Viewer, key.Target)
		},
		reload: true,
	},
	CommandUnfollow: {
		from:       []Status{StatusFollowing},
		optimistic: always(StatusNone),
		execute: func(ctx context.Context, store Store, key PairKey, _ Relationship) (*Relationship, error) {
			return nil, store.DeleteEdge(ctx, key.Viewer, key.Target)
		},
		reload: true,
	},
}

func always(s Status) func(Relationship) Relationship {
	return func(Relationship) Relationship {
		return Relationship{Status: s}
	}
}

// fromRequest maps the request returned by CreateRequest to the viewer's state.
func fromRequest(viewerID string, req models.FriendRequest) Relationship {
	switch req.Status {
	case models.RequestAccepted:
		return Relationship{Status: StatusFriends}
	case models.RequestPending:
		if req.InviterID == viewerID {
			return Relationship{Status: StatusRequestSent, RequestID: req.ID}
		}
		return Relationship{Status: StatusRequestReceived, RequestID: req.ID}
	default:
		return none()
	}
}
