package relationships

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meetloop/backend/internal/models"
)

const (
	viewer = "viewer"
	target = "target"
)

func edge(from, to string) models.FollowEdge {
	return models.FollowEdge{FollowerID: from, FollowedID: to}
}

func request(id, from, to string, status models.RequestStatus) models.FriendRequest {
	return models.FriendRequest{ID: id, InviterID: from, InviteeID: to, Status: status}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		edges    []models.FollowEdge
		requests []models.FriendRequest
		want     Relationship
	}{
		{name: "no data", want: Relationship{Status: StatusNone}},
		{name: "viewer follows", edges: []models.FollowEdge{edge(viewer, target)}, want: Relationship{Status: StatusFollowing}},
		{name: "target follows", edges: []models.FollowEdge{edge(target, viewer)}, want: Relationship{Status: StatusFollowedBy}},
		{
			name:  "mutual follow",
			edges: []models.FollowEdge{edge(viewer, target), edge(target, viewer)},
			want:  Relationship{Status: StatusFriends},
		},
		{
			name:     "accepted request",
			requests: []models.FriendRequest{request("r1", target, viewer, models.RequestAccepted)},
			want:     Relationship{Status: StatusFriends},
		},
		{
			name:     "pending outgoing",
			edges:    []models.FollowEdge{edge(viewer, target)},
			requests: []models.FriendRequest{request("r1", viewer, target, models.RequestPending)},
			want:     Relationship{Status: StatusRequestSent, RequestID: "r1"},
		},
		{
			name:     "pending incoming",
			edges:    []models.FollowEdge{edge(target, viewer)},
			requests: []models.FriendRequest{request("r2", target, viewer, models.RequestPending)},
			want:     Relationship{Status: StatusRequestReceived, RequestID: "r2"},
		},
		{
			name:     "declined request does not veto mutual follow",
			edges:    []models.FollowEdge{edge(viewer, target), edge(target, viewer)},
			requests: []models.FriendRequest{request("r3", viewer, target, models.RequestDeclined)},
			want:     Relationship{Status: StatusFriends},
		},
		{
			name:     "declined request alone",
			requests: []models.FriendRequest{request("r3", viewer, target, models.RequestDeclined)},
			want:     Relationship{Status: StatusNone},
		},
		{
			name:     "rows for other users ignored",
			edges:    []models.FollowEdge{edge(viewer, "other"), edge("other", target)},
			requests: []models.FriendRequest{request("r4", "other", viewer, models.RequestPending)},
			want:     Relationship{Status: StatusNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(viewer, target, tt.edges, tt.requests)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Resolve(viewer, target, tt.edges, tt.requests), "resolve must be repeatable")
		})
	}
}

func TestResolveAlwaysYieldsOneKnownStatus(t *testing.T) {
	edgeSets := [][]models.FollowEdge{
		nil,
		{edge(viewer, target)},
		{edge(target, viewer)},
		{edge(viewer, target), edge(target, viewer)},
	}
	requestStates := []*models.FriendRequest{nil}
	for _, status := range []models.RequestStatus{models.RequestPending, models.RequestAccepted, models.RequestDeclined, models.RequestCancelled} {
		for _, dir := range [][2]string{{viewer, target}, {target, viewer}} {
			req := request("r", dir[0], dir[1], status)
			requestStates = append(requestStates, &req)
		}
	}

	for i, edges := range edgeSets {
		for j, req := range requestStates {
			var requests []models.FriendRequest
			if req != nil {
				requests = append(requests, *req)
			}
			t.Run(fmt.Sprintf("edges%d_request%d", i, j), func(t *testing.T) {
				got := Resolve(viewer, target, edges, requests)
				assert.True(t, got.Status.Valid(), "unexpected status %q", got.Status)
				if got.Status.HasPendingRequest() {
					assert.Equal(t, "r", got.RequestID)
				} else {
					assert.Empty(t, got.RequestID)
				}
			})
		}
	}
}

func TestResolveBatchCoversEveryTarget(t *testing.T) {
	edges := []models.FollowEdge{edge(viewer, "a"), edge("b", viewer), edge("c", "a")}
	requests := []models.FriendRequest{request("r1", viewer, "c", models.RequestPending)}

	got := ResolveBatch(viewer, []string{"a", "b", "c", "d"}, edges, requests)

	assert.Equal(t, map[string]Relationship{
		"a": {Status: StatusFollowing},
		"b": {Status: StatusFollowedBy},
		"c": {Status: StatusRequestSent, RequestID: "r1"},
		"d": {Status: StatusNone},
	}, got)
}
