package relationships

import "github.com/meetloop/backend/internal/models"

// Resolve computes the relationship from viewer to target. Edges and requests
// that do not connect the pair are ignored; missing data resolves to none.
//
// Precedence, first match wins: friends (an accepted request or follow edges in
// both directions), request_sent, request_received, following, followed_by, none.
func Resolve(viewerID, targetID string, edges []models.FollowEdge, requests []models.FriendRequest) Relationship {
	var (
		follows, followedBy bool
		accepted            bool
		sent, received      string
	)

	for _, edge := range edges {
		switch {
		case edge.FollowerID == viewerID && edge.FollowedID == targetID:
			follows = true
		case edge.FollowerID == targetID && edge.FollowedID == viewerID:
			followedBy = true
		}
	}

	for _, req := range requests {
		if !req.Involves(viewerID, targetID) {
			continue
		}
		switch req.Status {
		case models.RequestAccepted:
			accepted = true
		case models.RequestPending:
			if req.InviterID == viewerID {
				sent = req.ID
			} else {
				received = req.ID
			}
		}
	}

	switch {
	case accepted || (follows && followedBy):
		return Relationship{Status: StatusFriends}
	case sent != "":
		return Relationship{Status: StatusRequestSent, RequestID: sent}
	case received != "":
		return Relationship{Status: StatusRequestReceived, RequestID: received}
	case follows:
		return Relationship{Status: StatusFollowing}
	case followedBy:
		return Relationship{Status: StatusFollowedBy}
	default:
		return none()
	}
}

// ResolveBatch resolves the viewer's relationship with every target in one pass
// over the rows. Every target is present in the result.
func ResolveBatch(viewerID string, targetIDs []string, edges []models.FollowEdge, requests []models.FriendRequest) map[string]Relationship {
	edgesByTarget := make(map[string][]models.FollowEdge)
	for _, edge := range edges {
		switch viewerID {
		case edge.FollowerID:
			edgesByTarget[edge.FollowedID] = append(edgesByTarget[edge.FollowedID], edge)
		case edge.FollowedID:
			edgesByTarget[edge.FollowerID] = append(edgesByTarget[edge.FollowerID], edge)
		}
	}

	requestsByTarget := make(map[string][]models.FriendRequest)
	for _, req := range requests {
		switch viewerID {
		case req.InviterID:
			requestsByTarget[req.InviteeID] = append(requestsByTarget[req.InviteeID], req)
		case req.InviteeID:
			requestsByTarget[req.InviterID] = append(requestsByTarget[req.InviterID], req)
		}
	}

	out := make(map[string]Relationship, len(targetIDs))
	for _, target := range targetIDs {
		out[target] = Resolve(viewerID, target, edgesByTarget[target], requestsByTarget[target])
	}
	return out
}
