package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scythe504/horde-backend/internal"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                   TEXT PRIMARY KEY,
	room_id              TEXT NOT NULL,
	map_id               TEXT NOT NULL,
	map_name             TEXT NOT NULL DEFAULT '',
	game_mode            TEXT NOT NULL,
	current_wave         INTEGER NOT NULL DEFAULT 0,
	status               TEXT NOT NULL,
	total_zombies_killed INTEGER NOT NULL DEFAULT 0,
	start_time           TIMESTAMPTZ NOT NULL,
	end_time             TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sessions_map_status_idx ON sessions (map_id, status);

CREATE TABLE IF NOT EXISTS session_players (
	session_id TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
	user_id    TEXT NOT NULL,
	username   TEXT NOT NULL,
	kills      INTEGER NOT NULL DEFAULT 0,
	deaths     INTEGER NOT NULL DEFAULT 0,
	score      INTEGER NOT NULL DEFAULT 0,
	join_time  TIMESTAMPTZ NOT NULL,
	leave_time TIMESTAMPTZ,
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (session_id, user_id)
);

CREATE TABLE IF NOT EXISTS session_waves (
	session_id       TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
	wave             INTEGER NOT NULL,
	zombies_spawned  INTEGER NOT NULL DEFAULT 0,
	zombies_killed   INTEGER NOT NULL DEFAULT 0,
	spawning_stopped BOOLEAN NOT NULL DEFAULT FALSE,
	completed        BOOLEAN NOT NULL DEFAULT FALSE,
	start_time       TIMESTAMPTZ NOT NULL,
	end_time         TIMESTAMPTZ,
	PRIMARY KEY (session_id, wave)
);
`

const (
	upsertPlayerSQL = `
INSERT INTO session_players (session_id, user_id, username, kills, deaths, score, join_time, leave_time, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (session_id, user_id) DO UPDATE SET
	username = EXCLUDED.username, kills = EXCLUDED.kills, deaths = EXCLUDED.deaths,
	score = EXCLUDED.score, leave_time = EXCLUDED.leave_time, is_active = EXCLUDED.is_active`

	upsertWaveSQL = `
INSERT INTO session_waves (session_id, wave, zombies_spawned, zombies_killed, spawning_stopped, completed, start_time, end_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id, wave) DO UPDATE SET
	zombies_spawned = EXCLUDED.zombies_spawned, zombies_killed = EXCLUDED.zombies_killed,
	spawning_stopped = EXCLUDED.spawning_stopped, completed = EXCLUDED.completed,
	start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time`
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects, pings and applies the schema.
func NewPostgresRepository(ctx context.Context, url string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Printf("[database.NewPostgresRepository] Connected to %s", pool.Config().ConnConfig.Database)
	return &PostgresRepository{pool: pool}, nil
}

func (p *PostgresRepository) Close() { p.pool.Close() }

func (p *PostgresRepository) CreateSession(ctx context.Context, s *internal.Session) error {
	if s == nil || s.ID == "" {
		return internal.NewValidationError("session id is required")
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO sessions (id, room_id, map_id, map_name, game_mode, current_wave, status, total_zombies_killed, start_time, end_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	current_wave = EXCLUDED.current_wave, status = EXCLUDED.status,
	total_zombies_killed = EXCLUDED.total_zombies_killed, end_time = EXCLUDED.end_time`,
			s.ID, s.RoomID, s.MapID, s.MapName, string(s.GameMode), s.CurrentWave,
			string(s.Status), s.TotalZombiesKilled, s.StartTime, s.EndTime)
		if err != nil {
			return fmt.Errorf("insert session %s: %w", s.ID, err)
		}

		batch := &pgx.Batch{}
		for _, pl := range s.Players {
			batch.Queue(upsertPlayerSQL, s.ID, pl.UserID, pl.DisplayName, pl.Kills, pl.Deaths, pl.Score,
				pl.JoinTime, pl.LeaveTime, pl.IsActive)
		}
		for _, w := range s.WaveHistory {
			batch.Queue(upsertWaveSQL, s.ID, w.Number, w.ZombiesSpawned, w.ZombiesKilled,
				w.SpawningStopped, w.Completed, w.StartTime, w.EndTime)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert session %s children: %w", s.ID, err)
		}
		return nil
	})
}

func (p *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*internal.Session, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, room_id, map_id, map_name, game_mode, current_wave, status, total_zombies_killed, start_time, end_time
FROM sessions WHERE id = $1`, sessionID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, internal.NewNotFoundError("session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	if err := p.loadChildren(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresRepository) FindActiveSessionForMap(ctx context.Context, mapID string) (*internal.Session, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, room_id, map_id, map_name, game_mode, current_wave, status, total_zombies_killed, start_time, end_time
FROM sessions WHERE map_id = $1 AND status IN ('waiting', 'active')
ORDER BY start_time DESC LIMIT 1`, mapID)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, internal.NewNotFoundError("no active session for map %s", mapID)
	}
	if err != nil {
		return nil, fmt.Errorf("find session for map %s: %w", mapID, err)
	}
	if err := p.loadChildren(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func scanSession(row pgx.Row) (*internal.Session, error) {
	var (
		s            internal.Session
		mode, status string
	)
	if err := row.Scan(&s.ID, &s.RoomID, &s.MapID, &s.MapName, &mode, &s.CurrentWave, &status,
		&s.TotalZombiesKilled, &s.StartTime, &s.EndTime); err != nil {
		return nil, err
	}
	s.GameMode = internal.GameMode(mode)
	s.Status = internal.SessionStatus(status)
	return &s, nil
}

func (p *PostgresRepository) loadChildren(ctx context.Context, s *internal.Session) error {
	rows, err := p.pool.Query(ctx, `
SELECT user_id, username, kills, deaths, score, join_time, leave_time, is_active
FROM session_players WHERE session_id = $1 ORDER BY join_time, user_id`, s.ID)
	if err != nil {
		return fmt.Errorf("load players of %s: %w", s.ID, err)
	}
	s.Players, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (internal.SessionPlayer, error) {
		var pl internal.SessionPlayer
		err := row.Scan(&pl.UserID, &pl.DisplayName, &pl.Kills, &pl.Deaths, &pl.Score,
			&pl.JoinTime, &pl.LeaveTime, &pl.IsActive)
		return pl, err
	})
	if err != nil {
		return fmt.Errorf("scan players of %s: %w", s.ID, err)
	}

	rows, err = p.pool.Query(ctx, `
SELECT wave, zombies_spawned, zombies_killed, spawning_stopped, completed, start_time, end_time
FROM session_waves WHERE session_id = $1 ORDER BY wave`, s.ID)
	if err != nil {
		return fmt.Errorf("load waves of %s: %w", s.ID, err)
	}
	s.WaveHistory, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (internal.Wave, error) {
		var w internal.Wave
		err := row.Scan(&w.Number, &w.ZombiesSpawned, &w.ZombiesKilled, &w.SpawningStopped,
			&w.Completed, &w.StartTime, &w.EndTime)
		return w, err
	})
	if err != nil {
		return fmt.Errorf("scan waves of %s: %w", s.ID, err)
	}
	return nil
}

// exec runs a single statement and turns "no row touched" into NotFound.
func (p *PostgresRepository) exec(ctx context.Context, what string, sql string, args ...any) error {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return internal.NewNotFoundError("%s: no matching row", what)
	}
	return nil
}

func (p *PostgresRepository) AddPlayerToSession(ctx context.Context, sessionID string, pl internal.SessionPlayer) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO session_players (session_id, user_id, username, kills, deaths, score, join_time, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
ON CONFLICT (session_id, user_id) DO UPDATE SET
	username = EXCLUDED.username, leave_time = NULL, is_active = TRUE`,
		sessionID, pl.UserID, pl.DisplayName, pl.Kills, pl.Deaths, pl.Score, pl.JoinTime)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return internal.NewNotFoundError("session %s not found", sessionID)
	}
	if err != nil {
		return fmt.Errorf("add player %s to %s: %w", pl.UserID, sessionID, err)
	}
	return nil
}

func (p *PostgresRepository) RemovePlayerFromSession(ctx context.Context, sessionID, userID string, at time.Time) error {
	return p.exec(ctx, fmt.Sprintf("remove player %s from %s", userID, sessionID), `
UPDATE session_players SET is_active = FALSE, leave_time = $3
WHERE session_id = $1 AND user_id = $2`, sessionID, userID, at)
}

func (p *PostgresRepository) UpdatePlayerStats(ctx context.Context, sessionID string, pl internal.SessionPlayer) error {
	return p.exec(ctx, fmt.Sprintf("update stats of %s in %s", pl.UserID, sessionID), `
UPDATE session_players SET kills = $3, deaths = $4, score = $5
WHERE session_id = $1 AND user_id = $2`, sessionID, pl.UserID, pl.Kills, pl.Deaths, pl.Score)
}

func (p *PostgresRepository) UpdateSessionStatus(ctx context.Context, sessionID string, status internal.SessionStatus, at time.Time) error {
	return p.exec(ctx, fmt.Sprintf("update status of %s", sessionID), `
UPDATE sessions SET status = $2,
	end_time = CASE WHEN $2 = 'finished' THEN COALESCE(end_time, $3) ELSE end_time END
WHERE id = $1`, sessionID, string(status), at)
}

func (p *PostgresRepository) StartNewWave(ctx context.Context, sessionID string, w internal.Wave) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE sessions SET current_wave = GREATEST(current_wave, $2) WHERE id = $1`,
			sessionID, w.Number)
		if err != nil {
			return fmt.Errorf("start wave %d of %s: %w", w.Number, sessionID, err)
		}
		if tag.RowsAffected() == 0 {
			return internal.NewNotFoundError("session %s not found", sessionID)
		}
		if _, err := tx.Exec(ctx, upsertWaveSQL, sessionID, w.Number, w.ZombiesSpawned, w.ZombiesKilled,
			w.SpawningStopped, w.Completed, w.StartTime, w.EndTime); err != nil {
			return fmt.Errorf("insert wave %d of %s: %w", w.Number, sessionID, err)
		}
		return nil
	})
}

func (p *PostgresRepository) UpdateWaveProgress(ctx context.Context, sessionID string, w internal.Wave) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE session_waves SET zombies_spawned = $3, zombies_killed = $4, spawning_stopped = $5,
	completed = $6, end_time = $7
WHERE session_id = $1 AND wave = $2`,
			sessionID, w.Number, w.ZombiesSpawned, w.ZombiesKilled, w.SpawningStopped, w.Completed, w.EndTime)
		if err != nil {
			return fmt.Errorf("update wave %d of %s: %w", w.Number, sessionID, err)
		}
		if tag.RowsAffected() == 0 {
			return internal.NewNotFoundError("wave %d not in session %s", w.Number, sessionID)
		}
		if _, err := tx.Exec(ctx, `
UPDATE sessions SET total_zombies_killed =
	(SELECT COALESCE(SUM(zombies_killed), 0) FROM session_waves WHERE session_id = $1)
WHERE id = $1`, sessionID); err != nil {
			return fmt.Errorf("update kill total of %s: %w", sessionID, err)
		}
		return nil
	})
}

func (p *PostgresRepository) MarkStaleSessions(ctx context.Context, at time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
UPDATE sessions SET status = 'finished', end_time = COALESCE(end_time, $1)
WHERE status IN ('waiting', 'active', 'paused')`, at)
	if err != nil {
		return 0, fmt.Errorf("mark stale sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
