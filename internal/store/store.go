// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store provides a persistent decimation plan cache.
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/kortschak/imagecraft/decimate"
	"github.com/kortschak/imagecraft/internal/slogext"

	// For sql.DB registration.
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get when no valid plan is held for an
// identifier.
var ErrNotFound = errors.New("not found")

// DB is a persistent plan cache.
type DB struct {
	mu    sync.Mutex
	store *sql.DB
	log   *slog.Logger
}

// Schema is the DB schema. Indices are stored as a JSON array.
const Schema = `
create table if not exists plans(
	id        TEXT NOT NULL,
	sum       BLOB NOT NULL,
	integrity REAL NOT NULL,
	indices   TEXT NOT NULL,
	delay     REAL NOT NULL,
	PRIMARY KEY(id)
);
`

const (
	upsert = `
insert into plans values(?, ?, ?, ?, ?)
  on conflict do update set sum=?, integrity=?, indices=?, delay=?;
`

	get = `
select sum, integrity, indices, delay from plans where id is ?;
`

	delet = `
delete from plans where id is ?;
`

	dump = `
select * from plans order by id;
`
)

// Entry is a cached plan and the source properties it was computed for.
type Entry struct {
	ID        string        `json:"id"`
	Sum       Sum           `json:"sum"`
	Integrity float64       `json:"integrity"`
	Plan      decimate.Plan `json:"plan"`
}

// Sum is the SHA-256 sum of encoded image data.
type Sum []byte

// SumOf returns the Sum of data.
func SumOf(data []byte) Sum {
	s := sha256.Sum256(data)
	return s[:]
}

// String returns the hex encoding of the sum.
func (s Sum) String() string {
	return hex.EncodeToString(s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Sum) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Sum) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	*s = b
	return nil
}

// Open opens a DB, creating the tables if required.
// See https://pkg.go.dev/modernc.org/sqlite#Driver.Open for name handling
// details.
func Open(name string, log *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DB{store: db, log: log.With(slog.String("component", "store"))}, nil
}

type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
}

// Set stores the entry, replacing any plan held for the same identifier.
func (db *DB) Set(e Entry) error {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "set", slog.String("id", e.ID), slog.Any("sum", e.Sum), slog.Float64("integrity", e.Integrity), slog.Any("plan", slogext.Plan{Plan: e.Plan}))
	db.mu.Lock()
	err := db.set(db.store, e)
	db.mu.Unlock()
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "set", slog.String("id", e.ID), slog.Any("error", err))
	}
	return err
}

func (*DB) set(db querier, e Entry) error {
	if e.ID == "" {
		return errors.New("empty id")
	}
	if e.Plan.Indices == nil {
		e.Plan.Indices = []int{}
	}
	indices, err := json.Marshal(e.Plan.Indices)
	if err != nil {
		return err
	}
	sum := []byte(e.Sum)
	if sum == nil {
		sum = []byte{}
	}
	_, err = db.Exec(upsert,
		e.ID, sum, e.Integrity, indices, e.Plan.Delay,
		sum, e.Integrity, indices, e.Plan.Delay,
	)
	return err
}

// Get returns the plan held for the identifier. Get returns ErrNotFound if
// no plan is held or if the held plan was computed for different data or
// a different integrity.
func (db *DB) Get(id string, sum Sum, integrity float64) (decimate.Plan, error) {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "get", slog.String("id", id), slog.Any("sum", sum), slog.Float64("integrity", integrity))
	db.mu.Lock()
	e, err := db.get(db.store, id)
	db.mu.Unlock()
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			db.log.LogAttrs(ctx, slog.LevelError, "get", slog.String("id", id), slog.Any("error", err))
		}
		return decimate.Plan{}, err
	}
	if !bytes.Equal(e.Sum, sum) || e.Integrity != integrity {
		db.log.LogAttrs(ctx, slog.LevelDebug, "stale", slog.String("id", id), slog.Any("sum", e.Sum), slog.Float64("integrity", e.Integrity))
		return decimate.Plan{}, ErrNotFound
	}
	return e.Plan, nil
}

func (*DB) get(db querier, id string) (Entry, error) {
	rows, err := db.Query(get, id)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Entry{}, err
		}
		return Entry{}, ErrNotFound
	}
	e, err := scan(rows, id)
	if err != nil {
		return Entry{}, err
	}
	if rows.Next() {
		return e, errors.New("unexpected item")
	}
	return e, rows.Err()
}

// scan reads an entry from the sum, integrity, indices and delay columns
// of the current row.
func scan(rows *sql.Rows, id string) (Entry, error) {
	var (
		e       = Entry{ID: id}
		sum     []byte
		indices []byte
	)
	err := rows.Scan(&sum, &e.Integrity, &indices, &e.Plan.Delay)
	if err != nil {
		return Entry{}, err
	}
	e.Sum = sum
	err = json.Unmarshal(indices, &e.Plan.Indices)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid indices for %s: %w", id, err)
	}
	return e, nil
}

// Put stores the entry if it differs from the entry currently held for
// its identifier. It returns the previously held entry, which is the zero
// Entry if there was none, and whether a write was performed.
func (db *DB) Put(e Entry) (old Entry, written bool, err error) {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "put", slog.String("id", e.ID), slog.Any("sum", e.Sum), slog.Float64("integrity", e.Integrity), slog.Any("plan", slogext.Plan{Plan: e.Plan}))
	db.mu.Lock()
	defer func() {
		db.mu.Unlock()
		if err != nil {
			db.log.LogAttrs(ctx, slog.LevelError, "put", slog.String("id", e.ID), slog.Any("error", err))
		}
	}()
	tx, err := db.store.Begin()
	if err != nil {
		return old, written, err
	}
	old, err = db.get(tx, e.ID)
	switch {
	case err == nil:
		if equal(old, e) {
			return old, false, tx.Rollback()
		}
	case errors.Is(err, ErrNotFound):
		old = Entry{}
	default:
		return Entry{}, false, errors.Join(err, tx.Rollback())
	}
	err = db.set(tx, e)
	if err != nil {
		return old, false, errors.Join(err, tx.Rollback())
	}
	err = tx.Commit()
	if err != nil {
		return old, false, err
	}
	return old, true, nil
}

func equal(a, b Entry) bool {
	return a.ID == b.ID &&
		bytes.Equal(a.Sum, b.Sum) &&
		a.Integrity == b.Integrity &&
		a.Plan.Delay == b.Plan.Delay &&
		slices.Equal(a.Plan.Indices, b.Plan.Indices)
}

// Delete removes the plan held for the identifier.
func (db *DB) Delete(id string) error {
	ctx := context.Background()
	db.log.LogAttrs(ctx, slog.LevelDebug, "delete", slog.String("id", id))
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.store.Exec(delet, id)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "delete", slog.String("id", id), slog.Any("error", err))
	}
	return err
}

// Dump returns all the entries in the database ordered by identifier.
func (db *DB) Dump() ([]Entry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	rows, err := db.store.Query(dump)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			sum     []byte
			indices []byte
		)
		err = rows.Scan(&e.ID, &sum, &e.Integrity, &indices, &e.Plan.Delay)
		if err != nil {
			return nil, err
		}
		e.Sum = sum
		err = json.Unmarshal(indices, &e.Plan.Indices)
		if err != nil {
			return nil, fmt.Errorf("invalid indices for %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (db *DB) Close() error {
	return db.store.Close()
}
