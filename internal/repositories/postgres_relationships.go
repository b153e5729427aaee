package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meetloop/backend/internal/db"
	"github.com/meetloop/backend/internal/models"
)

// PostgresRelationshipStore provides PostgreSQL-backed persistence for follow
// edges and friend requests.
type PostgresRelationshipStore struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresRelationshipStore constructs a relationship store backed by PostgreSQL.
func NewPostgresRelationshipStore(pool db.Pool) *PostgresRelationshipStore {
	return &PostgresRelationshipStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const selectRequestColumns = `id, inviter_id, invitee_id, status, created_at, responded_at`

// QueryEdges returns follow edges in either direction between the viewer and any target.
func (s *PostgresRelationshipStore) QueryEdges(ctx context.Context, viewerID string, targetIDs []string) ([]models.FollowEdge, error) {
	if len(targetIDs) == 0 {
		return nil, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT follower_id, followed_id, created_at
        FROM follows
        WHERE (follower_id = $1 AND followed_id = ANY($2::UUID[]))
           OR (followed_id = $1 AND follower_id = ANY($2::UUID[]))
    `, viewerID, targetIDs)
	if err != nil {
		return nil, fmt.Errorf("query follow edges: %w", err)
	}
	defer rows.Close()

	edges, err := scanEdges(rows)
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// QueryRequests returns the open (pending or accepted) friend requests between
// the viewer and any target.
func (s *PostgresRelationshipStore) QueryRequests(ctx context.Context, viewerID string, targetIDs []string) ([]models.FriendRequest, error) {
	if len(targetIDs) == 0 {
		return nil, nil
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+selectRequestColumns+`
        FROM friend_requests
        WHERE status IN ('pending', 'accepted')
          AND ((inviter_id = $1 AND invitee_id = ANY($2::UUID[]))
            OR (invitee_id = $1 AND inviter_id = ANY($2::UUID[])))
    `, viewerID, targetIDs)
	if err != nil {
		return nil, fmt.Errorf("query friend requests: %w", err)
	}
	defer rows.Close()

	var requests []models.FriendRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend requests: %w", err)
	}

	return requests, nil
}

// CreateRequest opens a friend request from inviter to invitee. An existing
// accepted request or an identical pending request is returned unchanged; a
// pending request in the opposite direction is accepted instead of inserting a
// second row.
func (s *PostgresRelationshipStore) CreateRequest(ctx context.Context, inviterID, inviteeID string) (models.FriendRequest, error) {
	if inviterID == inviteeID {
		return models.FriendRequest{}, ErrConflict
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var result models.FriendRequest
	err = db.InTx(ctx, conn, retryCreateRequest, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            SELECT `+selectRequestColumns+`
            FROM friend_requests
            WHERE status IN ('pending', 'accepted')
              AND ((inviter_id = $1 AND invitee_id = $2) OR (inviter_id = $2 AND invitee_id = $1))
            FOR UPDATE
        `, inviterID, inviteeID)

		existing, err := scanRequest(row)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return err
		case existing.Status == models.RequestAccepted, existing.InviterID == inviterID:
			result = existing
			return nil
		default:
			now := s.now()
			if _, err := tx.Exec(ctx, `
                UPDATE friend_requests
                SET status = 'accepted', responded_at = $2
                WHERE id = $1
            `, existing.ID, now); err != nil {
				return fmt.Errorf("accept reciprocal friend request: %w", err)
			}
			existing.Status = models.RequestAccepted
			existing.RespondedAt = &now
			result = existing
			return nil
		}

		req := models.FriendRequest{
			ID:        uuid.NewString(),
			InviterID: inviterID,
			InviteeID: inviteeID,
			Status:    models.RequestPending,
			CreatedAt: s.now(),
		}
		if _, err := tx.Exec(ctx, `
            INSERT INTO friend_requests (id, inviter_id, invitee_id, status, created_at)
            VALUES ($1, $2, $3, $4, $5)
        `, req.ID, req.InviterID, req.InviteeID, req.Status, req.CreatedAt); err != nil {
			return err
		}
		result = req
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return models.FriendRequest{}, ErrConflict
			case "23503":
				return models.FriendRequest{}, ErrNotFound
			}
		}
		return models.FriendRequest{}, fmt.Errorf("create friend request: %w", err)
	}

	return result, nil
}

// retryCreateRequest also retries unique violations: the competing insert has
// committed by then, so the next attempt observes it and auto-matches.
func retryCreateRequest(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return db.IsRetryable(err)
}

// UpdateRequestStatus moves a pending request to accepted, declined or cancelled.
// Only the invitee may accept or decline and only the inviter may cancel.
func (s *PostgresRelationshipStore) UpdateRequestStatus(ctx context.Context, actorID, requestID string, status models.RequestStatus) error {
	if status == models.RequestPending || !status.Valid() {
		return fmt.Errorf("update friend request: invalid status %q", status)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	err = db.InTx(ctx, conn, nil, func(tx pgx.Tx) error {
		current, err := lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := authorizeTransition(current, actorID, status); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
            UPDATE friend_requests
            SET status = $2, responded_at = $3
            WHERE id = $1
        `, requestID, status, s.now())
		return err
	})
	if err != nil {
		if isStoreOutcome(err) {
			return err
		}
		return fmt.Errorf("update friend request: %w", err)
	}

	return nil
}

// DeleteRequest removes a pending request. Only the inviter may delete it.
func (s *PostgresRelationshipStore) DeleteRequest(ctx context.Context, actorID, requestID string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	err = db.InTx(ctx, conn, nil, func(tx pgx.Tx) error {
		current, err := lockRequest(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if err := authorizeTransition(current, actorID, models.RequestCancelled); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `DELETE FROM friend_requests WHERE id = $1`, requestID)
		return err
	})
	if err != nil {
		if isStoreOutcome(err) {
			return err
		}
		return fmt.Errorf("delete friend request: %w", err)
	}

	return nil
}

// RemoveEdges ends a friendship from the viewer's side: accepted requests
// between the pair and the viewer's own follow edge are deleted. The edges that
// survive between the pair are returned.
func (s *PostgresRelationshipStore) RemoveEdges(ctx context.Context, viewerID, targetID string) ([]models.FollowEdge, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var remaining []models.FollowEdge
	err = db.InTx(ctx, conn, nil, func(tx pgx.Tx) error {
		requests, err := tx.Exec(ctx, `
            DELETE FROM friend_requests
            WHERE status = 'accepted'
              AND ((inviter_id = $1 AND invitee_id = $2) OR (inviter_id = $2 AND invitee_id = $1))
        `, viewerID, targetID)
		if err != nil {
			return err
		}

		edges, err := tx.Exec(ctx, `
            DELETE FROM follows
            WHERE follower_id = $1 AND followed_id = $2
        `, viewerID, targetID)
		if err != nil {
			return err
		}

		if requests.RowsAffected() == 0 && edges.RowsAffected() == 0 {
			return ErrConflict
		}

		rows, err := tx.Query(ctx, `
            SELECT follower_id, followed_id, created_at
            FROM follows
            WHERE (follower_id = $1 AND followed_id = $2) OR (follower_id = $2 AND followed_id = $1)
        `, viewerID, targetID)
		if err != nil {
			return err
		}
		defer rows.Close()

		remaining, err = scanEdges(rows)
		return err
	})
	if err != nil {
		if isStoreOutcome(err) {
			return nil, err
		}
		return nil, fmt.Errorf("remove relationship edges: %w", err)
	}

	return remaining, nil
}

// CreateEdge records that follower follows followed. Existing edges are left untouched.
func (s *PostgresRelationshipStore) CreateEdge(ctx context.Context, followerID, followedID string) error {
	if followerID == followedID {
		return ErrConflict
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO follows (follower_id, followed_id, created_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (follower_id, followed_id) DO NOTHING
    `, followerID, followedID, s.now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("insert follow edge: %w", err)
	}

	return nil
}

// DeleteEdge removes the follow edge from follower to followed if present.
func (s *PostgresRelationshipStore) DeleteEdge(ctx context.Context, followerID, followedID string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `
        DELETE FROM follows
        WHERE follower_id = $1 AND followed_id = $2
    `, followerID, followedID); err != nil {
		return fmt.Errorf("delete follow edge: %w", err)
	}

	return nil
}

func lockRequest(ctx context.Context, tx pgx.Tx, requestID string) (models.FriendRequest, error) {
	if _, err := uuid.Parse(requestID); err != nil {
		return models.FriendRequest{}, ErrNotFound
	}

	row := tx.QueryRow(ctx, `
        SELECT `+selectRequestColumns+`
        FROM friend_requests
        WHERE id = $1
        FOR UPDATE
    `, requestID)

	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FriendRequest{}, ErrNotFound
		}
		return models.FriendRequest{}, err
	}
	return req, nil
}

// authorizeTransition checks that actor may move current into next.
func authorizeTransition(current models.FriendRequest, actorID string, next models.RequestStatus) error {
	switch next {
	case models.RequestAccepted, models.RequestDeclined:
		if current.InviteeID != actorID {
			return ErrForbidden
		}
	case models.RequestCancelled:
		if current.InviterID != actorID {
			return ErrForbidden
		}
	}
	if current.Status != models.RequestPending {
		return ErrConflict
	}
	return nil
}

func isStoreOutcome(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrConflict)
}

func scanRequest(row pgx.Row) (models.FriendRequest, error) {
	var (
		req         models.FriendRequest
		status      string
		respondedAt sql.NullTime
	)

	if err := row.Scan(&req.ID, &req.InviterID, &req.InviteeID, &status, &req.CreatedAt, &respondedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.FriendRequest{}, err
		}
		return models.FriendRequest{}, fmt.Errorf("scan friend request: %w", err)
	}

	req.Status = models.RequestStatus(status)
	req.CreatedAt = req.CreatedAt.UTC()
	if respondedAt.Valid {
		t := respondedAt.Time.UTC()
		req.RespondedAt = &t
	}

	return req, nil
}

func scanEdges(rows pgx.Rows) ([]models.FollowEdge, error) {
	var edges []models.FollowEdge
	for rows.Next() {
		var edge models.FollowEdge
		if err := rows.Scan(&edge.FollowerID, &edge.FollowedID, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan follow edge: %w", err)
		}
		edge.CreatedAt = edge.CreatedAt.UTC()
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate follow edges: %w", err)
	}
	return edges, nil
}

var _ RelationshipRepository = (*PostgresRelationshipStore)(nil)
