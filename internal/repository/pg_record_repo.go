package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/pkg/trace"
)

// PgRecordRepository Postgres 后端。多进程部署用：分区在这里退化为
// (status, category) 两列，搬迁是单条事务性 UPDATE，没有文件后端的
// 瞬时重复窗口。
type PgRecordRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPgRecordRepository(db *pgxpool.Pool, logger *zap.Logger) *PgRecordRepository {
	return &PgRecordRepository{db: db, logger: logger}
}

// Migrate creates the records table if it does not exist.
func (r *PgRecordRepository) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS records (
			id          TEXT PRIMARY KEY,
			source_id   TEXT NOT NULL DEFAULT '',
			owner_id    TEXT NOT NULL DEFAULT '',
			subject     TEXT NOT NULL DEFAULT '',
			body        TEXT NOT NULL DEFAULT '',
			body_html   TEXT NOT NULL DEFAULT '',
			from_addr   TEXT NOT NULL DEFAULT '',
			to_addr     TEXT NOT NULL DEFAULT '',
			snippet     TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ,
			category    TEXT NOT NULL,
			status      TEXT NOT NULL,
			is_deleted  BOOLEAN NOT NULL DEFAULT FALSE,
			prev_status TEXT NOT NULL DEFAULT '',
			fetched_at  TIMESTAMPTZ NOT NULL,
			reviewed_at TIMESTAMPTZ,
			managed_at  TIMESTAMPTZ,
			deleted_at  TIMESTAMPTZ
		)
	`
	_, err := r.db.Exec(ctx, query)
	return err
}

const recordColumns = `
	id, source_id, owner_id, subject, body, body_html, from_addr, to_addr,
	snippet, received_at, category, status, is_deleted, prev_status,
	fetched_at, reviewed_at, managed_at, deleted_at
`

func scanRecord(row pgx.Row) (*model.Record, error) {
	var rec model.Record
	err := row.Scan(
		&rec.ID,
		&rec.SourceID,
		&rec.OwnerID,
		&rec.Subject,
		&rec.Body,
		&rec.BodyHTML,
		&rec.FromAddr,
		&rec.ToAddr,
		&rec.Snippet,
		&rec.ReceivedAt,
		&rec.Category,
		&rec.Status,
		&rec.IsDeleted,
		&rec.PrevStatus,
		&rec.FetchedAt,
		&rec.ReviewedAt,
		&rec.ManagedAt,
		&rec.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *PgRecordRepository) insertOne(ctx context.Context, tx pgx.Tx, rec *model.Record) error {
	query := `
		INSERT INTO records (` + recordColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`
	_, err := tx.Exec(ctx, query,
		rec.ID, rec.SourceID, rec.OwnerID, rec.Subject, rec.Body, rec.BodyHTML,
		rec.FromAddr, rec.ToAddr, rec.Snippet, rec.ReceivedAt, rec.Category,
		rec.Status, rec.IsDeleted, rec.PrevStatus, rec.FetchedAt,
		rec.ReviewedAt, rec.ManagedAt, rec.DeletedAt,
	)
	return err
}

func (r *PgRecordRepository) Create(ctx context.Context, rec *model.Record) (*model.Record, error) {
	created, err := r.CreateMany(ctx, []*model.Record{rec})
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("record with source id %q already exists", rec.SourceID)
	}
	return created[0], nil
}

func (r *PgRecordRepository) CreateMany(ctx context.Context, recs []*model.Record) ([]*model.Record, error) {
	if len(recs) == 0 {
		return nil, nil
	}

	sourceIDs := make([]string, 0, len(recs))
	for _, rec := range recs {
		if rec.SourceID != "" {
			sourceIDs = append(sourceIDs, rec.SourceID)
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	existing := make(map[string]bool)
	if len(sourceIDs) > 0 {
		rows, err := tx.Query(ctx, `
			SELECT source_id FROM records
			WHERE is_deleted = FALSE AND source_id = ANY($1)
		`, sourceIDs)
		if err != nil {
			return nil, fmt.Errorf("query existing source ids: %w", err)
		}
		for rows.Next() {
			var sid string
			if err := rows.Scan(&sid); err != nil {
				rows.Close()
				return nil, err
			}
			existing[sid] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	var created []*model.Record
	for _, rec := range recs {
		if rec.SourceID != "" && existing[rec.SourceID] {
			continue
		}
		stored := *rec
		if stored.ID == "" {
			stored.ID = trace.NewID()
		}
		stored.Status = model.StatusFetched
		stored.IsDeleted = false
		if stored.FetchedAt.IsZero() {
			stored.FetchedAt = now
		}
		if !model.ValidCategory(stored.Category) {
			stored.Category = model.CategoryOther
		}
		if err := r.insertOne(ctx, tx, &stored); err != nil {
			return nil, fmt.Errorf("insert record: %w", err)
		}
		if stored.SourceID != "" {
			existing[stored.SourceID] = true
		}
		created = append(created, &stored)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

func (r *PgRecordRepository) GetByID(ctx context.Context, id string) (*model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE id = $1`
	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *PgRecordRepository) Update(ctx context.Context, id string, patch model.RecordPatch) (*model.Record, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + recordColumns + ` FROM records WHERE id = $1 FOR UPDATE`
	current, err := scanRecord(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	merged := patch.Apply(*current)
	merged.IsDeleted = merged.Status == model.StatusDeleted

	_, err = tx.Exec(ctx, `
		UPDATE records SET
			subject = $1, body = $2, category = $3, status = $4,
			is_deleted = $5, prev_status = $6, reviewed_at = $7,
			managed_at = $8, deleted_at = $9
		WHERE id = $10
	`,
		merged.Subject, merged.Body, merged.Category, merged.Status,
		merged.IsDeleted, merged.PrevStatus, merged.ReviewedAt,
		merged.ManagedAt, merged.DeletedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &merged, nil
}

func (r *PgRecordRepository) List(ctx context.Context, filter RecordFilter) ([]*model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE 1=1`
	args := []any{}
	n := 0

	if filter.Status != nil {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, *filter.Status)
	} else {
		query += " AND is_deleted = FALSE"
	}
	if filter.Category != nil {
		n++
		query += fmt.Sprintf(" AND category = $%d", n)
		args = append(args, *filter.Category)
	}
	if filter.OwnerID != "" {
		n++
		query += fmt.Sprintf(" AND owner_id = $%d", n)
		args = append(args, filter.OwnerID)
	}
	query += " ORDER BY fetched_at DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
