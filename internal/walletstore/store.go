// Package walletstore is the SQLite-backed wallet-ownership store of
// spec.md §4.C: wallets, wallet_roots, wallet_pins, wallet_cid_metadata and
// cid_wallet_usage, behind a single-writer operation queue and an ambient
// BEGIN IMMEDIATE transaction scope.
package walletstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_wallet.sql
var walletSchemaSQL string

//go:embed schema_usage.sql
var usageSchemaSQL string

// Store wraps two *sql.DB handles against the same file: a single-connection
// write handle (serialized by both SQLite's own file lock and our own
// operation queue) and a multi-connection read handle, so readers never
// queue behind a long write. Grounded on internal/db/postgres.go's
// PostgresStore wrapper shape (Connect/Close/InitSchema over one pool), split
// into two pools here because SQLite's single-writer model has no pgxpool
// equivalent.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
	queue   chan writeOp
	done    chan struct{}
}

type writeOp struct {
	ctx  context.Context
	fn   func(ctx context.Context, tx *sql.Tx) error
	resp chan error
}

// OpenWalletDB connects to NODE_API_WALLET_DB_PATH and applies the
// wallets/wallet_roots/wallet_pins/wallet_cid_metadata schema.
func OpenWalletDB(path string, busyTimeoutMS int) (*Store, error) {
	s, err := open(path, busyTimeoutMS)
	if err != nil {
		return nil, err
	}
	if _, err := s.writeDB.Exec(walletSchemaSQL); err != nil {
		return nil, fmt.Errorf("apply wallet schema: %w", err)
	}
	log.Println("wallet store schema initialized")
	return s, nil
}

// OpenUsageDB connects to NODE_API_USAGE_DB_PATH and applies the
// cid_wallet_usage schema. Kept as a separate file/Store per spec.md §6's
// distinct NODE_API_WALLET_DB_PATH / NODE_API_USAGE_DB_PATH env vars.
func OpenUsageDB(path string, busyTimeoutMS int) (*Store, error) {
	s, err := open(path, busyTimeoutMS)
	if err != nil {
		return nil, err
	}
	if _, err := s.writeDB.Exec(usageSchemaSQL); err != nil {
		return nil, fmt.Errorf("apply usage schema: %w", err)
	}
	log.Println("usage store schema initialized")
	return s, nil
}

// open connects to the SQLite file at path, configuring WAL mode and
// busy_timeout (spec.md §6), and starts the single-writer queue worker.
// DSN parameter _txlock=immediate makes every Begin() on the write handle
// issue BEGIN IMMEDIATE, per spec.md §4.C.
func open(path string, busyTimeoutMS int) (*Store, error) {
	writeDSN := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", path, busyTimeoutMS)
	writeDB, err := sql.Open("sqlite3", writeDSN)
	if err != nil {
		return nil, fmt.Errorf("open write handle: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDSN := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&mode=ro", path, busyTimeoutMS)
	readDB, err := sql.Open("sqlite3", readDSN)
	if err != nil {
		return nil, fmt.Errorf("open read handle: %w", err)
	}
	readDB.SetMaxOpenConns(4)

	if err := writeDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping write handle: %w", err)
	}

	s := &Store{writeDB: writeDB, readDB: readDB, queue: make(chan writeOp, 128), done: make(chan struct{})}
	go s.runQueue()
	return s, nil
}

// Close stops the write queue and closes both handles.
func (s *Store) Close() {
	close(s.queue)
	<-s.done
	s.writeDB.Close()
	s.readDB.Close()
}

// runQueue is the single writer goroutine: every write operation the store
// exposes is funneled through here so SQLite sees one statement stream at a
// time, grounded on internal/scanner/block_scanner.go's
// single-background-goroutine-owns-mutable-state shape.
func (s *Store) runQueue() {
	defer close(s.done)
	for op := range s.queue {
		op.resp <- s.runTx(op.ctx, op.fn)
	}
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, ok := txFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(withTx(ctx, tx), tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Write submits fn to the single-writer queue, or runs it directly against
// the caller's ambient transaction if one is already open on ctx — this is
// the "nested call reuses the enclosing transaction" rule of spec.md §4.C.
func (s *Store) Write(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, ok := txFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	resp := make(chan error, 1)
	select {
	case s.queue <- writeOp{ctx: ctx, fn: fn, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// txKey is the context key under which an open *sql.Tx is carried so nested
// Write calls within the same logical operation participate in one
// transaction (spec.md §4.C "ambient transaction scope").
type txKey struct{}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}

// queryRow and query run against the read handle directly, bypassing the
// write queue, matching spec.md §5's "reads may go through the same
// queue... but must not block behind long writes". When ctx carries an
// ambient transaction they run on that *sql.Tx instead, so reads inside a
// Write closure see its uncommitted changes.
func (s *Store) queryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if tx, ok := txFromContext(ctx); ok {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return s.readDB.QueryRowContext(ctx, query, args...)
}

func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx, ok := txFromContext(ctx); ok {
		return tx.QueryContext(ctx, query, args...)
	}
	return s.readDB.QueryContext(ctx, query, args...)
}
