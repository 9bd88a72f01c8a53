// Package store persists sessions, staged block metadata, committed recordings and
// interview results. It runs on PostgreSQL (pgx) or SQLite behind database/sql.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/vango-go/vai-interview/pkg/interview/api"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a recording is finalized twice with different blocks.
	ErrConflict = errors.New("store: conflicting write")
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
	logger *slog.Logger
}

// Open connects, verifies the connection and applies pending migrations.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps in-memory databases alive and serializes writers.
		db.SetMaxOpenConns(1)
	}
	s, err := New(db, driver, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB, driver string, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		driver: driver,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	dialect := goose.DialectSQLite3
	if s.driver == DriverPostgres {
		dialect = goose.DialectPostgres
	}
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	provider, err := goose.NewProvider(dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Info("migration applied", "version", r.Source.Version, "duration_ms", r.Duration.Milliseconds())
	}
	return nil
}

// rebind rewrites '?' placeholders into '$n' for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// TouchSession records that a transport credential was issued for the session.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	now := s.now()
	_, err := s.exec(ctx, `
		INSERT INTO interview_sessions (id, created_at, last_token_at, tokens_issued)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (id) DO UPDATE SET
			last_token_at = excluded.last_token_at,
			tokens_issued = interview_sessions.tokens_issued + 1`,
		sessionID, now, now)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Block is the metadata of one staged recording block.
type Block struct {
	SessionID string
	BlockID   string
	Size      int64
	Checksum  string
	IsFirst   bool
	StagedAt  time.Time
}

// RecordBlock stores block metadata. Re-staging a block replaces its metadata.
func (s *Store) RecordBlock(ctx context.Context, b Block) error {
	_, err := s.exec(ctx, `
		INSERT INTO recording_blocks (session_id, block_id, size, checksum, is_first, staged_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, block_id) DO UPDATE SET
			size = excluded.size,
			checksum = excluded.checksum,
			is_first = excluded.is_first,
			staged_at = excluded.staged_at`,
		b.SessionID, b.BlockID, b.Size, b.Checksum, b.IsFirst, s.now())
	if err != nil {
		return fmt.Errorf("record block: %w", err)
	}
	return nil
}

// Blocks returns the staged block metadata of a session keyed by block ID.
func (s *Store) Blocks(ctx context.Context, sessionID string) (map[string]Block, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT block_id, size, checksum, is_first, staged_at
		FROM recording_blocks WHERE session_id = ?`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Block)
	for rows.Next() {
		b := Block{SessionID: sessionID}
		if err := rows.Scan(&b.BlockID, &b.Size, &b.Checksum, &b.IsFirst, &b.StagedAt); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		out[b.BlockID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	return out, nil
}

// Recording is a committed recording row.
type Recording struct {
	SessionID   string
	BlockIDs    []string
	URL         string
	Size        int64
	Duration    float64
	Format      string
	Resolution  string
	FrameRate   int
	FinalizedAt time.Time
}

// SaveRecording inserts the recording once. A second save with the same block list
// returns the stored row; a different list returns ErrConflict.
func (s *Store) SaveRecording(ctx context.Context, rec Recording) (Recording, error) {
	ids, err := json.Marshal(rec.BlockIDs)
	if err != nil {
		return Recording{}, fmt.Errorf("encode block ids: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO recordings (session_id, block_ids, url, size, duration_seconds, format, resolution, frame_rate, finalized_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO NOTHING`,
		rec.SessionID, string(ids), rec.URL, rec.Size, rec.Duration, rec.Format, rec.Resolution, rec.FrameRate, s.now())
	if err != nil {
		return Recording{}, fmt.Errorf("save recording: %w", err)
	}

	stored, err := s.Recording(ctx, rec.SessionID)
	if err != nil {
		return Recording{}, err
	}
	if !SameBlocks(stored.BlockIDs, rec.BlockIDs) {
		return stored, fmt.Errorf("%w: session %s already finalized with %d blocks", ErrConflict, rec.SessionID, len(stored.BlockIDs))
	}
	return stored, nil
}

func (s *Store) Recording(ctx context.Context, sessionID string) (Recording, error) {
	var (
		rec Recording
		ids string
	)
	err := s.queryRow(ctx, `
		SELECT session_id, block_ids, url, size, duration_seconds, format, resolution, frame_rate, finalized_at
		FROM recordings WHERE session_id = ?`, sessionID).
		Scan(&rec.SessionID, &ids, &rec.URL, &rec.Size, &rec.Duration, &rec.Format, &rec.Resolution, &rec.FrameRate, &rec.FinalizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Recording{}, fmt.Errorf("%w: recording for session %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return Recording{}, fmt.Errorf("load recording: %w", err)
	}
	if err := json.Unmarshal([]byte(ids), &rec.BlockIDs); err != nil {
		return Recording{}, fmt.Errorf("decode block ids: %w", err)
	}
	return rec, nil
}

// SameBlocks reports whether two block lists are identical in order.
func SameBlocks(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SaveResults stores the transcript and scores, replacing an earlier save.
func (s *Store) SaveResults(ctx context.Context, res api.ResultsRequest) error {
	scores, err := json.Marshal(res.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	qa, err := json.Marshal(res.QATranscript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	conv, err := json.Marshal(res.Conversation)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO interview_results (session_id, overall_score, scores, qa_transcript, conversation, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			overall_score = excluded.overall_score,
			scores = excluded.scores,
			qa_transcript = excluded.qa_transcript,
			conversation = excluded.conversation,
			saved_at = excluded.saved_at`,
		res.SessionID, res.Scores.Overall, string(scores), string(qa), string(conv), s.now())
	if err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	return nil
}

func (s *Store) Results(ctx context.Context, sessionID string) (api.ResultsRequest, error) {
	var (
		overall          decimal.Decimal
		scores, qa, conv string
		out              = api.ResultsRequest{SessionID: sessionID}
	)
	err := s.queryRow(ctx, `
		SELECT overall_score, scores, qa_transcript, conversation
		FROM interview_results WHERE session_id = ?`, sessionID).
		Scan(&overall, &scores, &qa, &conv)
	if errors.Is(err, sql.ErrNoRows) {
		return out, fmt.Errorf("%w: results for session %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return out, fmt.Errorf("load results: %w", err)
	}
	if err := json.Unmarshal([]byte(scores), &out.Scores); err != nil {
		return out, fmt.Errorf("decode scores: %w", err)
	}
	if err := json.Unmarshal([]byte(qa), &out.QATranscript); err != nil {
		return out, fmt.Errorf("decode transcript: %w", err)
	}
	if err := json.Unmarshal([]byte(conv), &out.Conversation); err != nil {
		return out, fmt.Errorf("decode conversation: %w", err)
	}
	out.Scores.Overall = overall
	return out, nil
}

// SaveAIScores stores the gateway scorer's output, replacing an earlier run.
func (s *Store) SaveAIScores(ctx context.Context, sessionID string, scores api.Scores) error {
	raw, err := json.Marshal(scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO ai_scores (session_id, overall_score, scores, scored_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			overall_score = excluded.overall_score,
			scores = excluded.scores,
			scored_at = excluded.scored_at`,
		sessionID, scores.Overall, string(raw), s.now())
	if err != nil {
		return fmt.Errorf("save ai scores: %w", err)
	}
	return nil
}

func (s *Store) AIScores(ctx context.Context, sessionID string) (api.Scores, error) {
	var (
		out api.Scores
		raw string
	)
	err := s.queryRow(ctx, `SELECT scores FROM ai_scores WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return out, fmt.Errorf("%w: ai scores for session %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return out, fmt.Errorf("load ai scores: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("decode ai scores: %w", err)
	}
	return out, nil
}
