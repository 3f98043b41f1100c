//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "puckbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendPost(ctx context.Context, r PostRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(at, game_id, platform, kind, event_id, text, ref_id, reply_to, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.At.Format(time.RFC3339Nano), r.GameID, r.Platform, r.Kind,
		nullStr(r.EventID), r.Text, nullStr(r.RefID), nullStr(r.ReplyTo), nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) PutBaseline(ctx context.Context, b Baseline) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if b.PlayerID == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO baselines(player_id, games_played, goals, assists, points, pp_goals, pp_points, is_goalie, wins, shutouts, fetched_day)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(player_id) DO UPDATE SET
		   games_played=excluded.games_played, goals=excluded.goals, assists=excluded.assists,
		   points=excluded.points, pp_goals=excluded.pp_goals, pp_points=excluded.pp_points,
		   is_goalie=excluded.is_goalie, wins=excluded.wins, shutouts=excluded.shutouts,
		   fetched_day=excluded.fetched_day`,
		b.PlayerID, b.GamesPlayed, b.Goals, b.Assists, b.Points, b.PPGoals, b.PPPoints,
		boolInt(b.IsGoalie), b.Wins, b.Shutouts, b.FetchedDay,
	)
	return err
}

func (s *sqliteStore) GetBaseline(ctx context.Context, playerID int64) (Baseline, bool, error) {
	if s == nil || s.db == nil {
		return Baseline{}, false, ErrDisabled
	}
	var b Baseline
	var goalie int
	err := s.db.QueryRowContext(ctx,
		`SELECT player_id, games_played, goals, assists, points, pp_goals, pp_points, is_goalie, wins, shutouts, fetched_day
		 FROM baselines WHERE player_id = ?`, playerID,
	).Scan(&b.PlayerID, &b.GamesPlayed, &b.Goals, &b.Assists, &b.Points, &b.PPGoals, &b.PPPoints,
		&goalie, &b.Wins, &b.Shutouts, &b.FetchedDay)
	if errors.Is(err, sql.ErrNoRows) {
		return Baseline{}, false, nil
	}
	if err != nil {
		return Baseline{}, false, err
	}
	b.IsGoalie = goalie != 0
	return b, true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
