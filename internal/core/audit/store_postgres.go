// Copyright (c) 2026 Castellan. All rights reserved.
// Author: ops@castellan.dev

package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castellan/castellan/internal/platform/dberr"
)

type Store interface {
	Insert(context context.Context, entry *Entry) error
	List(context context.Context, filter Filter, limit, offset int) ([]*Entry, int, error)
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const selectColumns = `id, actorid, action, targetid, path, method, ip, useragent,
	status, latencyms, traceid, error, createdat`

func (store *PostgresStore) Insert(context context.Context, entry *Entry) error {
	const query = `
		INSERT INTO rbac.auditlog (id, actorid, action, targetid, path, method, ip, useragent, status, latencyms, traceid, error, createdat)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING createdat`

	err := store.pool.QueryRow(context, query,
		entry.ID, entry.ActorID, entry.Action, entry.TargetID,
		entry.Path, entry.Method, entry.IP, entry.UserAgent,
		entry.Status, entry.LatencyMS, entry.TraceID, entry.Error,
	).Scan(&entry.CreatedAt)

	return dberr.Wrap(err, "insert_audit_entry")
}

func (store *PostgresStore) List(context context.Context, filter Filter, limit, offset int) ([]*Entry, int, error) {
	query := `SELECT ` + selectColumns + ` FROM rbac.auditlog WHERE 1=1`
	countQuery := `SELECT count(*) FROM rbac.auditlog WHERE 1=1`

	args := []any{}

	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		clause := fmt.Sprintf(` AND actorid = $%d`, len(args))
		query += clause
		countQuery += clause
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		clause := fmt.Sprintf(` AND action = $%d`, len(args))
		query += clause
		countQuery += clause
	}
	if filter.TraceID != "" {
		args = append(args, filter.TraceID)
		clause := fmt.Sprintf(` AND traceid = $%d`, len(args))
		query += clause
		countQuery += clause
	}

	var total int
	if err := store.pool.QueryRow(context, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, dberr.Wrap(err, "count_audit_entries")
	}

	query += fmt.Sprintf(` ORDER BY createdat DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := store.pool.Query(context, query, args...)
	if err != nil {
		return nil, 0, dberr.Wrap(err, "list_audit_entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry := &Entry{}
		if err := rows.Scan(
			&entry.ID, &entry.ActorID, &entry.Action, &entry.TargetID,
			&entry.Path, &entry.Method, &entry.IP, &entry.UserAgent,
			&entry.Status, &entry.LatencyMS, &entry.TraceID, &entry.Error,
			&entry.CreatedAt,
		); err != nil {
			return nil, 0, dberr.Wrap(err, "scan_audit_entry")
		}
		entries = append(entries, entry)
	}

	return entries, total, nil
}
