package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// Schema creates the tables the repository uses.
//
//go:embed schema.sql
var Schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements derivative.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate creates missing tables.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}

func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("duplicate entry in %s: %s", operation, pgErr.ConstraintName)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Entity operations

func (r *Repository) GetEntity(ctx context.Context, kind derivative.EntityKind, id uuid.UUID) (derivative.Entity, error) {
	switch kind {
	case derivative.KindFile:
		return r.getFile(ctx, id)
	case derivative.KindUser:
		u, err := r.GetUser(ctx, id)
		if errors.Is(err, derivative.ErrUserNotFound) {
			return nil, derivative.ErrEntityNotFound
		}
		return u, err
	case derivative.KindNode, derivative.KindMedia:
	default:
		return nil, fmt.Errorf("%w: kind %q", derivative.ErrUnsupportedEntity, kind)
	}

	query := `
		SELECT bundle, label, source_field, revisions, field_schema, field_values
		FROM entities WHERE id = $1 AND kind = $2`

	var (
		bundle, label, sourceField string
		revisions                  int
		schemaJSON, valuesJSON     []byte
	)
	err := r.db.QueryRow(ctx, query, id, string(kind)).Scan(
		&bundle, &label, &sourceField, &revisions, &schemaJSON, &valuesJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, derivative.ErrEntityNotFound
		}
		return nil, r.handlePostgresError("get entity", err)
	}

	var fields derivative.Fields
	if err := json.Unmarshal(schemaJSON, &fields.Schema); err != nil {
		return nil, fmt.Errorf("decode field schema of %s: %w", id, err)
	}
	if err := json.Unmarshal(valuesJSON, &fields.Values); err != nil {
		return nil, fmt.Errorf("decode field values of %s: %w", id, err)
	}

	if kind == derivative.KindNode {
		return &derivative.Node{ID: id, Type: bundle, Title: label, Revisions: revisions, Fields: fields}, nil
	}

	m := &derivative.Media{
		ID:          id,
		Type:        bundle,
		Name:        label,
		SourceField: sourceField,
		Revisions:   revisions,
		Fields:      fields,
	}
	if fid, ok := m.SourceFileID(); ok {
		f, err := r.getFile(ctx, fid)
		switch {
		case err == nil:
			m.Source = f
		case !errors.Is(err, derivative.ErrEntityNotFound):
			return nil, err
		}
	}
	return m, nil
}

// SaveEntity upserts nodes and media, counting one revision per save.
func (r *Repository) SaveEntity(ctx context.Context, entity derivative.Entity) error {
	var (
		sourceField string
		fields      derivative.Fields
	)
	switch e := entity.(type) {
	case *derivative.Node:
		fields = e.Fields
	case *derivative.Media:
		sourceField = e.SourceField
		fields = e.Fields
	case *derivative.File:
		return r.SaveFile(ctx, e)
	case *derivative.User:
		return r.SaveUser(ctx, e)
	default:
		return fmt.Errorf("%w: %T", derivative.ErrUnsupportedEntity, entity)
	}

	schemaJSON, err := marshalJSON(fields.Schema)
	if err != nil {
		return err
	}
	valuesJSON, err := marshalJSON(fields.Values)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entities (id, kind, bundle, label, source_field, field_schema, field_values)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			bundle = EXCLUDED.bundle,
			label = EXCLUDED.label,
			source_field = EXCLUDED.source_field,
			field_schema = EXCLUDED.field_schema,
			field_values = EXCLUDED.field_values,
			revisions = entities.revisions + 1,
			updated_at = now()`

	_, err = r.db.Exec(ctx, query,
		entity.EntityID(), string(entity.Kind()), entity.Bundle(), entity.Label(),
		sourceField, schemaJSON, valuesJSON)
	if err != nil {
		return r.handlePostgresError("save entity", err)
	}
	return nil
}

func (r *Repository) DeleteEntity(ctx context.Context, kind derivative.EntityKind, id uuid.UUID) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch kind {
	case derivative.KindFile:
		tag, err = r.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	case derivative.KindUser:
		tag, err = r.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	case derivative.KindNode, derivative.KindMedia:
		tag, err = r.db.Exec(ctx, `DELETE FROM entities WHERE id = $1 AND kind = $2`, id, string(kind))
	default:
		return fmt.Errorf("%w: kind %q", derivative.ErrUnsupportedEntity, kind)
	}
	if err != nil {
		return r.handlePostgresError("delete entity", err)
	}
	if tag.RowsAffected() == 0 {
		return derivative.ErrEntityNotFound
	}
	return nil
}

// User operations

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*derivative.User, error) {
	u := derivative.User{ID: id}
	err := r.db.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, id).Scan(&u.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, derivative.ErrUserNotFound
		}
		return nil, r.handlePostgresError("get user", err)
	}
	return &u, nil
}

func (r *Repository) SaveUser(ctx context.Context, user *derivative.User) error {
	query := `
		INSERT INTO users (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()`
	if _, err := r.db.Exec(ctx, query, user.ID, user.Name); err != nil {
		return r.handlePostgresError("save user", err)
	}
	return nil
}

// File operations

func (r *Repository) FindFileByURI(ctx context.Context, uri string) (*derivative.File, error) {
	f := derivative.File{URI: uri}
	err := r.db.QueryRow(ctx,
		`SELECT id, filename, mime_type, size FROM files WHERE uri = $1`, uri,
	).Scan(&f.ID, &f.Filename, &f.MimeType, &f.Size)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, derivative.ErrFileNotFound
		}
		return nil, r.handlePostgresError("find file", err)
	}
	return &f, nil
}

func (r *Repository) SaveFile(ctx context.Context, file *derivative.File) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE files SET filename = $2, uri = $3, mime_type = $4, size = $5, updated_at = now()
		WHERE id = $1`,
		file.ID, file.Filename, file.URI, file.MimeType, file.Size)
	if err != nil {
		return r.handlePostgresError("save file", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Concurrent writers of the same URI converge on the first row.
	query := `
		INSERT INTO files (id, filename, uri, mime_type, size) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (uri) DO UPDATE SET
			filename = EXCLUDED.filename,
			mime_type = EXCLUDED.mime_type,
			size = EXCLUDED.size,
			updated_at = now()
		RETURNING id`
	err = r.db.QueryRow(ctx, query, file.ID, file.Filename, file.URI, file.MimeType, file.Size).Scan(&file.ID)
	if err != nil {
		return r.handlePostgresError("save file", err)
	}
	return nil
}

func (r *Repository) getFile(ctx context.Context, id uuid.UUID) (*derivative.File, error) {
	f := derivative.File{ID: id}
	err := r.db.QueryRow(ctx,
		`SELECT filename, uri, mime_type, size FROM files WHERE id = $1`, id,
	).Scan(&f.Filename, &f.URI, &f.MimeType, &f.Size)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, derivative.ErrEntityNotFound
		}
		return nil, r.handlePostgresError("get file", err)
	}
	return &f, nil
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte("{}"), nil
	}
	return b, nil
}

var _ derivative.Repository = (*Repository)(nil)
