package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/iliyamo/event-checkin/internal/model"
)

const offlineSchema = `
CREATE TABLE IF NOT EXISTS offline_redemptions (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	booking_id TEXT    NOT NULL UNIQUE,
	status     TEXT    NOT NULL,
	detail     TEXT    NOT NULL DEFAULT '',
	redemption BLOB    NOT NULL,
	record     BLOB,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS offline_redemptions_status ON offline_redemptions (status, seq);
CREATE TABLE IF NOT EXISTS spooled_records (
	seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	body BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS spooled_reviews (
	seq  INTEGER PRIMARY KEY AUTOINCREMENT,
	body BLOB NOT NULL
);
`

// SQLiteOfflineStore is the durable OfflineStore used on scanning
// devices.  Structured values are stored as CBOR blobs.
type SQLiteOfflineStore struct {
	pool *sqlitex.Pool
	log  *slog.Logger
	path string
}

// OpenSQLiteOfflineStore opens (creating if needed) the store at path.
func OpenSQLiteOfflineStore(path string, log *slog.Logger) (*SQLiteOfflineStore, error) {
	if path == "" {
		return nil, fmt.Errorf("offline store: path is required")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    2,
		PrepareConn: prepareOfflineConn,
	})
	if err != nil {
		return nil, fmt.Errorf("offline store: opening %s: %w", path, err)
	}
	s := &SQLiteOfflineStore{pool: pool, log: log, path: path}

	// Create the schema eagerly so that a broken file fails at startup.
	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("offline store: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, offlineSchema, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("offline store: schema: %w", err)
	}
	log.Info("offline store opened", "path", path)
	return s, nil
}

func prepareOfflineConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *SQLiteOfflineStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("offline store: closing %s: %w", s.path, err)
	}
	return nil
}

func (s *SQLiteOfflineStore) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("offline store: take: %w", err)
	}
	return conn, nil
}

func (s *SQLiteOfflineStore) Add(ctx context.Context, e Entry) (_ Entry, err error) {
	red, err := marshalBlob(e.Redemption)
	if err != nil {
		return Entry{}, err
	}
	var rec []byte
	if e.Record != nil {
		if rec, err = marshalBlob(e.Record); err != nil {
			return Entry{}, err
		}
	}

	conn, err := s.take(ctx)
	if err != nil {
		return Entry{}, err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return Entry{}, fmt.Errorf("offline store: begin: %w", err)
	}
	defer endTransaction(&err)

	exists := false
	err = sqlitex.Execute(conn, `SELECT 1 FROM offline_redemptions WHERE booking_id = ?`, &sqlitex.ExecOptions{
		Args: []any{e.Redemption.BookingID},
		ResultFunc: func(*sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("offline store: lookup: %w", err)
	}
	if exists {
		return Entry{}, ErrEntryExists
	}

	now := time.Now().UTC()
	args := []any{e.Redemption.BookingID, string(e.Status), e.Detail, red, nil, now.UnixNano()}
	if rec != nil {
		args[4] = rec
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO offline_redemptions (booking_id, status, detail, redemption, record, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: args})
	if err != nil {
		return Entry{}, fmt.Errorf("offline store: insert: %w", err)
	}
	e.Seq = conn.LastInsertRowID()
	e.UpdatedAt = now
	return e, nil
}

const entryColumns = `seq, status, detail, redemption, record, updated_at`

func scanEntry(stmt *sqlite.Stmt) (Entry, error) {
	e := Entry{
		Seq:       stmt.ColumnInt64(0),
		Status:    EntryStatus(stmt.ColumnText(1)),
		Detail:    stmt.ColumnText(2),
		UpdatedAt: time.Unix(0, stmt.ColumnInt64(5)).UTC(),
	}
	if err := unmarshalBlob(columnBlob(stmt, 3), &e.Redemption); err != nil {
		return Entry{}, err
	}
	if !stmt.ColumnIsNull(4) {
		var rec model.CheckinRecord
		if err := unmarshalBlob(columnBlob(stmt, 4), &rec); err != nil {
			return Entry{}, err
		}
		e.Record = &rec
	}
	return e, nil
}

func columnBlob(stmt *sqlite.Stmt, col int) []byte {
	buf := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, buf)
	return buf
}

func (s *SQLiteOfflineStore) Lookup(ctx context.Context, bookingID string) (*Entry, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var found *Entry
	err = sqlitex.Execute(conn, `SELECT `+entryColumns+` FROM offline_redemptions WHERE booking_id = ?`, &sqlitex.ExecOptions{
		Args: []any{bookingID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			e, err := scanEntry(stmt)
			if err != nil {
				return err
			}
			found = &e
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("offline store: lookup %s: %w", bookingID, err)
	}
	return found, nil
}

func (s *SQLiteOfflineStore) Pending(ctx context.Context) ([]Entry, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []Entry
	err = sqlitex.Execute(conn, `SELECT `+entryColumns+` FROM offline_redemptions WHERE status = ? ORDER BY seq`, &sqlitex.ExecOptions{
		Args: []any{string(StatusPending)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			e, err := scanEntry(stmt)
			if err != nil {
				return err
			}
			out = append(out, e)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("offline store: pending: %w", err)
	}
	return out, nil
}

func (s *SQLiteOfflineStore) Settle(ctx context.Context, seq int64, status EntryStatus, detail string) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE offline_redemptions SET status = ?, detail = ?, updated_at = ? WHERE seq = ?`, &sqlitex.ExecOptions{
		Args: []any{string(status), detail, time.Now().UTC().UnixNano(), seq},
	})
	if err != nil {
		return fmt.Errorf("offline store: settle %d: %w", seq, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("offline store: no entry %d", seq)
	}
	return nil
}

func (s *SQLiteOfflineStore) spool(ctx context.Context, table string, v any) error {
	body, err := marshalBlob(v)
	if err != nil {
		return err
	}
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	if err := sqlitex.Execute(conn, `INSERT INTO `+table+` (body) VALUES (?)`, &sqlitex.ExecOptions{Args: []any{body}}); err != nil {
		return fmt.Errorf("offline store: spool into %s: %w", table, err)
	}
	return nil
}

func (s *SQLiteOfflineStore) spooled(ctx context.Context, table string, limit int, each func(seq int64, body []byte) error) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	if limit <= 0 {
		limit = -1
	}
	err = sqlitex.Execute(conn, `SELECT seq, body FROM `+table+` ORDER BY seq LIMIT ?`, &sqlitex.ExecOptions{
		Args: []any{limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			return each(stmt.ColumnInt64(0), columnBlob(stmt, 1))
		},
	})
	if err != nil {
		return fmt.Errorf("offline store: read %s: %w", table, err)
	}
	return nil
}

func (s *SQLiteOfflineStore) remove(ctx context.Context, table string, seq int64) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	if err := sqlitex.Execute(conn, `DELETE FROM `+table+` WHERE seq = ?`, &sqlitex.ExecOptions{Args: []any{seq}}); err != nil {
		return fmt.Errorf("offline store: delete from %s: %w", table, err)
	}
	return nil
}

func (s *SQLiteOfflineStore) SpoolRecord(ctx context.Context, r model.CheckinRecord) error {
	return s.spool(ctx, "spooled_records", r)
}

func (s *SQLiteOfflineStore) SpooledRecords(ctx context.Context, limit int) ([]SpooledRecord, error) {
	var out []SpooledRecord
	err := s.spooled(ctx, "spooled_records", limit, func(seq int64, body []byte) error {
		var r model.CheckinRecord
		if err := unmarshalBlob(body, &r); err != nil {
			return err
		}
		out = append(out, SpooledRecord{Seq: seq, Record: r})
		return nil
	})
	return out, err
}

func (s *SQLiteOfflineStore) DeleteRecord(ctx context.Context, seq int64) error {
	return s.remove(ctx, "spooled_records", seq)
}

func (s *SQLiteOfflineStore) SpoolReview(ctx context.Context, item model.ReviewItem) error {
	return s.spool(ctx, "spooled_reviews", item)
}

func (s *SQLiteOfflineStore) SpooledReviews(ctx context.Context, limit int) ([]SpooledReview, error) {
	var out []SpooledReview
	err := s.spooled(ctx, "spooled_reviews", limit, func(seq int64, body []byte) error {
		var it model.ReviewItem
		if err := unmarshalBlob(body, &it); err != nil {
			return err
		}
		out = append(out, SpooledReview{Seq: seq, Item: it})
		return nil
	})
	return out, err
}

func (s *SQLiteOfflineStore) DeleteReview(ctx context.Context, seq int64) error {
	return s.remove(ctx, "spooled_reviews", seq)
}

func (s *SQLiteOfflineStore) Backlog(ctx context.Context) (Backlog, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return Backlog{}, err
	}
	defer s.pool.Put(conn)

	var b Backlog
	const q = `SELECT
		(SELECT COUNT(*) FROM offline_redemptions WHERE status = ?),
		(SELECT COUNT(*) FROM spooled_records),
		(SELECT COUNT(*) FROM spooled_reviews)`
	err = sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
		Args: []any{string(StatusPending)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			b.Pending = stmt.ColumnInt(0)
			b.Records = stmt.ColumnInt(1)
			b.Reviews = stmt.ColumnInt(2)
			return nil
		},
	})
	if err != nil {
		return Backlog{}, fmt.Errorf("offline store: backlog: %w", err)
	}
	return b, nil
}
