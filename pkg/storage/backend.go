package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"polyfit/pkg/common"
	"polyfit/pkg/logger"
)

// Backend persists named point sets. Only input points are stored, never
// derived coefficients.
type Backend interface {
	SaveSet(name string, points []common.Point) error
	BatchSave(sets map[string][]common.Point) error
	LoadSet(name string) ([]common.Point, bool, error)
	LoadAll() (map[string][]common.Point, error)
	DeleteSet(name string) error
	Truncate() error
	Close() error

	// Checkpoint drops, overwrites and records lsn in one transaction. Replay
	// skips journal entries at or below CheckpointLSN.
	Checkpoint(sets map[string][]common.Point, dropped []string, lsn uint64) error
	CheckpointLSN() (uint64, error)
}

type SQLiteBackend struct {
	db  *sql.DB
	mu  sync.Mutex
	log *logger.Logger
}

var _ Backend = (*SQLiteBackend)(nil)

func NewSQLiteBackend(path string, log *logger.Logger) (*SQLiteBackend, error) {
	if log == nil {
		log = logger.NoopLogger()
	}
	log = log.WithComponent("storage")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	query := `
	CREATE TABLE IF NOT EXISTS point_sets (
		name TEXT PRIMARY KEY
	);
	CREATE TABLE IF NOT EXISTS points (
		set_name TEXT NOT NULL,
		seq      INTEGER NOT NULL,
		x        REAL NOT NULL,
		y        REAL NOT NULL,
		PRIMARY KEY (set_name, seq)
	);
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}

	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL; 
	`)
	if err != nil {
		log.Warn("failed to set PRAGMA", "error", err)
	}

	return &SQLiteBackend{db: db, log: log}, nil
}

func (s *SQLiteBackend) SaveSet(name string, points []common.Point) error {
	return s.BatchSave(map[string][]common.Point{name: points})
}

// BatchSave overwrites every named set in one transaction.
func (s *SQLiteBackend) BatchSave(sets map[string][]common.Point) error {
	if len(sets) == 0 {
		return nil
	}
	return s.inTx(func(tx *sql.Tx) error {
		return saveSets(tx, sets)
	})
}

func (s *SQLiteBackend) Checkpoint(sets map[string][]common.Point, dropped []string, lsn uint64) error {
	err := s.inTx(func(tx *sql.Tx) error {
		for _, name := range dropped {
			if err := deleteSet(tx, name); err != nil {
				return err
			}
		}
		if err := saveSets(tx, sets); err != nil {
			return err
		}
		// never move backwards
		_, err := tx.Exec(`INSERT INTO meta (key, value) VALUES ('checkpoint_lsn', ?)
			ON CONFLICT(key) DO UPDATE SET value = MAX(value, excluded.value)`, int64(lsn))
		return err
	})
	if err != nil {
		s.log.Warn("checkpoint rolled back", "sets", len(sets), "dropped", len(dropped), "lsn", lsn, "error", err)
	}
	return err
}

// CheckpointLSN is 0 for a fresh database.
func (s *SQLiteBackend) CheckpointLSN() (uint64, error) {
	var v int64
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = 'checkpoint_lsn'").Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

func (s *SQLiteBackend) inTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func saveSets(tx *sql.Tx, sets map[string][]common.Point) error {
	stmt, err := tx.Prepare("INSERT INTO points (set_name, seq, x, y) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, name := range sortedNames(sets) {
		if _, err := tx.Exec("INSERT OR IGNORE INTO point_sets (name) VALUES (?)", name); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM points WHERE set_name = ?", name); err != nil {
			return err
		}
		for seq, p := range sets[name] {
			if _, err := stmt.Exec(name, seq, p.X, p.Y); err != nil {
				return err
			}
		}
	}
	return nil
}

func deleteSet(tx *sql.Tx, name string) error {
	if _, err := tx.Exec("DELETE FROM points WHERE set_name = ?", name); err != nil {
		return err
	}
	_, err := tx.Exec("DELETE FROM point_sets WHERE name = ?", name)
	return err
}

func (s *SQLiteBackend) LoadSet(name string) ([]common.Point, bool, error) {
	var exists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM point_sets WHERE name = ?", name).Scan(&exists)
	if err != nil {
		return nil, false, err
	}
	if exists == 0 {
		return nil, false, nil
	}

	rows, err := s.db.Query("SELECT x, y FROM points WHERE set_name = ? ORDER BY seq ASC", name)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	points := []common.Point{}
	for rows.Next() {
		var p common.Point
		if err := rows.Scan(&p.X, &p.Y); err != nil {
			return nil, false, err
		}
		points = append(points, p)
	}
	return points, true, rows.Err()
}

func (s *SQLiteBackend) LoadAll() (map[string][]common.Point, error) {
	rows, err := s.db.Query("SELECT name FROM point_sets ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sets := make(map[string][]common.Point, len(names))
	for _, n := range names {
		points, _, err := s.LoadSet(n)
		if err != nil {
			return nil, err
		}
		sets[n] = points
	}
	return sets, nil
}

func (s *SQLiteBackend) DeleteSet(name string) error {
	return s.inTx(func(tx *sql.Tx) error {
		return deleteSet(tx, name)
	})
}

func (s *SQLiteBackend) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM points"); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM point_sets")
	return err
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func sortedNames(sets map[string][]common.Point) []string {
	names := make([]string, 0, len(sets))
	for n := range sets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
