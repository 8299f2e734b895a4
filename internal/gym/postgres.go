package gym

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the tenant directory in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initDirectorySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initDirectorySchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS gyms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL DEFAULT '',
			plan TEXT NOT NULL DEFAULT '',
			remaining_credits INTEGER NOT NULL DEFAULT 0,
			instructions TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS gym_members (
			id TEXT PRIMARY KEY,
			gym_id TEXT NOT NULL REFERENCES gyms(id) ON DELETE CASCADE,
			badge_id TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			membership_type TEXT NOT NULL DEFAULT '',
			blocked BOOLEAN NOT NULL DEFAULT FALSE,
			block_reason TEXT NOT NULL DEFAULT '',
			blocked_until TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_gym_members_badge ON gym_members (gym_id, badge_id);`,
		`CREATE TABLE IF NOT EXISTS voice_sessions (
			session_id TEXT PRIMARY KEY,
			gym_id TEXT NOT NULL,
			member_id TEXT NOT NULL DEFAULT '',
			surface TEXT NOT NULL,
			client_ip TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NULL,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			credits_used INTEGER NOT NULL DEFAULT 0,
			end_reason TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_voice_sessions_member_started ON voice_sessions (gym_id, member_id, started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_voice_sessions_ip_started ON voice_sessions (gym_id, client_ip, started_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init directory schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertGym(ctx context.Context, g Gym) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO gyms (id, name, slug, plan, remaining_credits, instructions, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name,
			slug=EXCLUDED.slug,
			plan=EXCLUDED.plan,
			remaining_credits=EXCLUDED.remaining_credits,
			instructions=EXCLUDED.instructions`,
		g.ID, g.Name, g.Slug, g.Plan, g.RemainingCredits, g.Instructions, g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert gym: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGym(ctx context.Context, id string) (Gym, error) {
	var g Gym
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, slug, plan, remaining_credits, instructions, created_at
		   FROM gyms WHERE id=$1`, id,
	).Scan(&g.ID, &g.Name, &g.Slug, &g.Plan, &g.RemainingCredits, &g.Instructions, &g.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Gym{}, ErrNotFound
		}
		return Gym{}, fmt.Errorf("get gym: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) UpsertMember(ctx context.Context, m Member) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO gym_members (id, gym_id, badge_id, first_name, last_name, email,
			membership_type, blocked, block_reason, blocked_until, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (id) DO UPDATE SET
			gym_id=EXCLUDED.gym_id,
			badge_id=EXCLUDED.badge_id,
			first_name=EXCLUDED.first_name,
			last_name=EXCLUDED.last_name,
			email=EXCLUDED.email,
			membership_type=EXCLUDED.membership_type,
			blocked=EXCLUDED.blocked,
			block_reason=EXCLUDED.block_reason,
			blocked_until=EXCLUDED.blocked_until`,
		m.ID, m.GymID, m.BadgeID, m.FirstName, m.LastName, m.Email,
		m.MembershipType, m.Blocked, m.BlockReason, m.BlockedUntil, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

const memberColumns = `id, gym_id, badge_id, first_name, last_name, email,
	membership_type, blocked, block_reason, blocked_until, created_at`

func (s *PostgresStore) GetMember(ctx context.Context, gymID, memberID string) (Member, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM gym_members WHERE gym_id=$1 AND id=$2`,
		gymID, memberID,
	)
	return scanMember(row)
}

func (s *PostgresStore) MemberByBadge(ctx context.Context, gymID, badgeID string) (Member, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM gym_members WHERE gym_id=$1 AND badge_id=$2
		 ORDER BY created_at DESC LIMIT 1`,
		gymID, badgeID,
	)
	return scanMember(row)
}

func scanMember(row pgx.Row) (Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.GymID, &m.BadgeID, &m.FirstName, &m.LastName, &m.Email,
		&m.MembershipType, &m.Blocked, &m.BlockReason, &m.BlockedUntil, &m.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Member{}, ErrNotFound
		}
		return Member{}, fmt.Errorf("scan member: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) InsertSession(ctx context.Context, log SessionLog) error {
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO voice_sessions (session_id, gym_id, member_id, surface, client_ip,
			model, started_at, duration_seconds, credits_used, end_reason)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,0,0,'')`,
		log.SessionID, log.GymID, log.MemberID, string(log.Surface), log.ClientIP,
		log.Model, log.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) CloseSession(ctx context.Context, sessionID string, durationSeconds, creditsUsed int, reason string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var gymID string
	err = tx.QueryRow(ctx,
		`UPDATE voice_sessions
		    SET ended_at=now(), duration_seconds=$2, credits_used=$3, end_reason=$4
		  WHERE session_id=$1 AND ended_at IS NULL
		  RETURNING gym_id`,
		sessionID, durationSeconds, creditsUsed, reason,
	).Scan(&gymID)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Either unknown or already closed; disambiguate for the caller.
			var n int
			if lookupErr := s.pool.QueryRow(ctx,
				`SELECT 1 FROM voice_sessions WHERE session_id=$1`, sessionID,
			).Scan(&n); lookupErr == nil {
				return 0, ErrSessionEnded
			}
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("close session: %w", err)
	}

	var remaining int
	err = tx.QueryRow(ctx,
		`UPDATE gyms
		    SET remaining_credits = GREATEST(remaining_credits - $2, 0)
		  WHERE id=$1
		  RETURNING remaining_credits`,
		gymID, creditsUsed,
	).Scan(&remaining)
	if err != nil {
		return 0, fmt.Errorf("debit credits: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return remaining, nil
}

func (s *PostgresStore) ActiveSessionID(ctx context.Context, gymID, memberID string) (string, bool, error) {
	if memberID == "" {
		return "", false, nil
	}
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT session_id FROM voice_sessions
		  WHERE gym_id=$1 AND member_id=$2 AND ended_at IS NULL
		  ORDER BY started_at DESC LIMIT 1`,
		gymID, memberID,
	).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("active session lookup: %w", err)
	}
	return id, true, nil
}

func (s *PostgresStore) CountMemberSessionsSince(ctx context.Context, gymID, memberID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM voice_sessions
		  WHERE gym_id=$1 AND member_id=$2 AND started_at >= $3`,
		gymID, memberID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count member sessions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountIPSessionsSince(ctx context.Context, gymID, clientIP string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM voice_sessions
		  WHERE gym_id=$1 AND client_ip=$2 AND started_at >= $3`,
		gymID, clientIP, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ip sessions: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
