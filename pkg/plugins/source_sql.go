package plugins

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// SQLSource reads manifests from the plugin_descriptors table. The manifest
// column holds the YAML (or JSON) document; disabled rows are ignored. The
// queries use $N placeholders, accepted by both PostgreSQL and SQLite.
type SQLSource struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewSQLSource creates a database-backed source
func NewSQLSource(db *sql.DB, log *logrus.Logger) (*SQLSource, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if log == nil {
		log = logrus.New()
	}
	return &SQLSource{db: db, log: log}, nil
}

// EnsureSchema creates the plugin_descriptors table if it doesn't exist
func (s *SQLSource) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS plugin_descriptors (
		id VARCHAR(255) PRIMARY KEY,
		manifest TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure plugin_descriptors table: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Discover returns every enabled manifest ordered by id. Rows that do not
// parse are returned with ReadErr set.
func (s *SQLSource) Discover(ctx context.Context) ([]*Manifest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, manifest FROM plugin_descriptors WHERE enabled = $1 ORDER BY id`, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query plugin descriptors: %w", err)
	}
	defer rows.Close()

	var manifests []*Manifest
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan plugin descriptor: %w", err)
		}
		manifests = append(manifests, s.parseRow(id, doc))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plugin descriptors: %w", err)
	}

	return manifests, nil
}

// Read returns the enabled manifest stored for id.
func (s *SQLSource) Read(ctx context.Context, id string) (*Manifest, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT manifest FROM plugin_descriptors WHERE id = $1 AND enabled = $2`, id, true).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin descriptor %s: %w", id, err)
	}

	m := s.parseRow(id, doc)
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	return m, nil
}

// Put stores a manifest, replacing any existing row with the same id.
func (s *SQLSource) Put(ctx context.Context, manifest *Manifest) error {
	if manifest == nil || manifest.ID == "" {
		return fmt.Errorf("%w: manifest id is required", ErrMalformedDescriptor)
	}
	doc, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	query := `
		INSERT INTO plugin_descriptors (id, manifest, enabled, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET manifest = EXCLUDED.manifest, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, manifest.ID, string(doc), true); err != nil {
		return fmt.Errorf("failed to store plugin descriptor %s: %w", manifest.ID, err)
	}
	return nil
}

// SetEnabled enables or disables the descriptor row for id.
func (s *SQLSource) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plugin_descriptors SET enabled = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update plugin descriptor %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update plugin descriptor %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return nil
}

func (s *SQLSource) parseRow(id, doc string) *Manifest {
	source := "sql:plugin_descriptors/" + id
	m, err := ParseManifest([]byte(doc))
	if err != nil {
		s.log.WithField("plugin", id).Warnf("Failed to parse stored manifest: %v", err)
		return &Manifest{ID: id, Source: source, ReadErr: err}
	}
	if m.ID == "" {
		m.ID = id
	} else if m.ID != id {
		err := fmt.Errorf("manifest id %q does not match row id %q", m.ID, id)
		return &Manifest{ID: id, Source: source, ReadErr: err}
	}
	m.Source = source
	return m
}
