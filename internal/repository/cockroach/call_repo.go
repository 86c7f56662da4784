package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"peercall-backend/internal/domain"
)

// CallRepository handles call data operations.
// All lifecycle transitions go through conditional UPDATEs so that
// concurrent accept/decline/end/timeout race safely; the row's status
// column is the single arbiter.
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

const callColumns = `
	call_id, conversation_id, caller_id, callee_id, call_type, status,
	end_reason, created_at, started_at, ended_at, duration_seconds,
	rings_until, caller_media, callee_media
`

func scanCall(row pgx.Row) (*domain.Call, error) {
	call := &domain.Call{}
	err := row.Scan(
		&call.CallID,
		&call.ConversationID,
		&call.CallerID,
		&call.CalleeID,
		&call.CallType,
		&call.Status,
		&call.EndReason,
		&call.CreatedAt,
		&call.StartedAt,
		&call.EndedAt,
		&call.DurationSeconds,
		&call.RingsUntil,
		&call.CallerMedia,
		&call.CalleeMedia,
	)
	if err != nil {
		return nil, err
	}
	return call, nil
}

// Create inserts a new call row in ringing state
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO calls (
			call_id, conversation_id, caller_id, callee_id, call_type, status,
			created_at, rings_until, caller_media, callee_media
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.ConversationID,
		call.CallerID,
		call.CalleeID,
		call.CallType,
		call.Status,
		call.CreatedAt,
		call.RingsUntil,
		call.CallerMedia,
		call.CalleeMedia,
	)

	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// MarkConnected transitions a ringing call to connected. Returns false when
// the call was not in ringing state anymore (lost the race).
func (r *CallRepository) MarkConnected(ctx context.Context, callID uuid.UUID, startedAt time.Time, calleeMedia domain.MediaState) (bool, error) {
	query := `
		UPDATE calls
		SET status = $2,
		    started_at = $3,
		    rings_until = NULL,
		    callee_media = $4
		WHERE call_id = $1 AND status = $5
	`

	tag, err := r.pool.Exec(ctx, query,
		callID,
		domain.CallStatusConnected,
		startedAt,
		calleeMedia,
		domain.CallStatusRinging,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark call connected: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkTerminal transitions a call into a terminal status, conditional on the
// current status being one of from. Returns false when the precondition did
// not hold. Duration is nil for calls that never connected.
func (r *CallRepository) MarkTerminal(ctx context.Context, callID uuid.UUID, from []domain.CallStatus, to domain.CallStatus, reason domain.EndReason, endedAt time.Time, durationSeconds *int) (bool, error) {
	query := `
		UPDATE calls
		SET status = $2,
		    end_reason = $3,
		    ended_at = $4,
		    duration_seconds = $5,
		    rings_until = NULL
		WHERE call_id = $1 AND status = ANY($6)
	`

	fromStrings := make([]string, len(from))
	for i, s := range from {
		fromStrings[i] = string(s)
	}

	tag, err := r.pool.Exec(ctx, query,
		callID,
		to,
		reason,
		endedAt,
		durationSeconds,
		fromStrings,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark call terminal: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// SetMediaState replaces one party's media flags. No status change.
func (r *CallRepository) SetMediaState(ctx context.Context, callID uuid.UUID, role domain.CallRole, media domain.MediaState) error {
	column := "caller_media"
	if role == domain.RoleCallee {
		column = "callee_media"
	}

	query := fmt.Sprintf(`UPDATE calls SET %s = $2 WHERE call_id = $1`, column)

	tag, err := r.pool.Exec(ctx, query, callID, media)
	if err != nil {
		return fmt.Errorf("failed to update media state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ActiveCallAsCaller returns the caller's current non-terminal outbound call,
// or ErrNotFound
func (r *CallRepository) ActiveCallAsCaller(ctx context.Context, callerID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE caller_id = $1 AND status IN ('ringing', 'connecting', 'connected')
		ORDER BY created_at DESC
		LIMIT 1
	`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active call for caller: %w", err)
	}

	return call, nil
}

// ActiveCallBetween returns any non-terminal call between the two users,
// in either direction, or ErrNotFound
func (r *CallRepository) ActiveCallBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE ((caller_id = $1 AND callee_id = $2) OR (caller_id = $2 AND callee_id = $1))
		  AND status IN ('ringing', 'connecting', 'connected')
		ORDER BY created_at DESC
		LIMIT 1
	`

	call, err := scanCall(r.pool.QueryRow(ctx, query, userA, userB))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active call between users: %w", err)
	}

	return call, nil
}

// ActiveCallForUser returns the user's current non-terminal call on either
// side, or ErrNotFound
func (r *CallRepository) ActiveCallForUser(ctx context.Context, userID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE (caller_id = $1 OR callee_id = $1)
		  AND status IN ('ringing', 'connecting', 'connected')
		ORDER BY created_at DESC
		LIMIT 1
	`

	call, err := scanCall(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active call for user: %w", err)
	}

	return call, nil
}

// ActiveCallsForUser returns all non-terminal calls the user participates in.
// Normally at most one, but disconnect cleanup sweeps them all.
func (r *CallRepository) ActiveCallsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE (caller_id = $1 OR callee_id = $1)
		  AND status IN ('ringing', 'connecting', 'connected')
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active calls for user: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

// CountStartedSince counts calls the user created after the cutoff,
// regardless of outcome
func (r *CallRepository) CountStartedSince(ctx context.Context, callerID uuid.UUID, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM calls WHERE caller_id = $1 AND created_at >= $2`

	var count int
	if err := r.pool.QueryRow(ctx, query, callerID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recent calls: %w", err)
	}

	return count, nil
}

// ListByUser returns the user's call history, newest first
func (r *CallRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE caller_id = $1 OR callee_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

// ListExpiredRinging returns ringing calls whose persisted deadline has
// passed. Used by the sweep job to reclaim calls whose in-process timers
// were lost to a restart.
func (r *CallRepository) ListExpiredRinging(ctx context.Context, now time.Time, limit int) ([]*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE status = 'ringing' AND rings_until IS NOT NULL AND rings_until < $1
		ORDER BY rings_until ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired ringing calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, rows.Err()
}
