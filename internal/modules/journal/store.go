// README: Append-only ride transition journal backed by PostgreSQL.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"orbix/internal/modules/ride"
	"orbix/internal/types"
)

// Entry is one committed phase change.
type Entry struct {
	ID         int64
	RideID     types.ID
	IdentityID types.ID
	Role       types.Role
	From       ride.Phase
	To         ride.Phase
	Event      ride.EventKind
	Session    ride.Session
	CreatedAt  time.Time
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) AppendTransition(ctx context.Context, e *Entry) error {
	payload, err := json.Marshal(e.Session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO ride_transitions (
			ride_id, identity_id, role, from_phase, to_phase, event, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(e.RideID),
		string(e.IdentityID),
		string(e.Role),
		string(e.From),
		string(e.To),
		string(e.Event),
		payload,
		e.CreatedAt,
	)
	return err
}

// ListByRide returns a ride's transitions in commit order.
func (s *Store) ListByRide(ctx context.Context, rideID types.ID) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_id, identity_id, role, from_phase, to_phase, event, payload, created_at
		FROM ride_transitions
		WHERE ride_id = $1
		ORDER BY id`, string(rideID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(
			&e.ID, &e.RideID, &e.IdentityID, &e.Role, &e.From, &e.To, &e.Event, &payload, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &e.Session); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
