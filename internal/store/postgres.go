package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const uniqueViolation = "23505"

// Store is the Postgres TaskStore backed by the tasks table.
type Store struct {
	DB *sql.DB
}

func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Create(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO tasks (id, status) VALUES ($1, 'processing')`, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrTaskExists
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	var (
		rec      Record
		status   string
		result   sql.NullString
		finished sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, status, result, created_at, finished_at FROM tasks WHERE id=$1`, id).
		Scan(&rec.ID, &status, &result, &rec.CreatedAt, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("select task: %w", err)
	}
	rec.Status = Status(status)
	if result.Valid {
		rec.Result = &result.String
	}
	if finished.Valid {
		rec.FinishedAt = &finished.Time
	}
	return rec, true, nil
}

func (s *Store) SetTerminal(ctx context.Context, id string, status Status, result string) error {
	if err := checkTerminal(status); err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET status=$1, result=$2, finished_at=NOW() WHERE id=$3 AND status='processing'`,
		string(status), result, id)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check task: %w", err)
	}
	if !exists {
		return ErrTaskNotFound
	}
	return ErrTaskTerminal
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// Migrate applies the embedded migrations against dsn.
// direction is "up" or "down"; steps 0 means all the way.
func Migrate(dsn, direction string, steps int) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
