package repository

import (
	"context"
	"errors"
	"strings"

	"entgo.io/ent/dialect"
	"github.com/go-sql-driver/mysql"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS source_file (
	id {{id}} PRIMARY KEY,
	source_path {{text}} NOT NULL,
	content_hash {{hash}} NOT NULL UNIQUE,
	filename {{str}} NOT NULL,
	file_ext {{str}} NOT NULL,
	file_size {{int64}} NOT NULL,
	uploaded_at {{ts}} NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS extract_job (
	id {{id}} PRIMARY KEY,
	file_id {{id}} NULL REFERENCES source_file(id),
	ticket_id {{id}} NULL,
	source {{str}} NOT NULL,
	format {{str}} NOT NULL,
	status {{str}} NOT NULL,
	started_at {{ts}} NOT NULL,
	finished_at {{ts}} NULL,
	error_message {{text}} NULL,
	ocr_text {{text}} NULL,
	ocr_method {{str}} NULL,
	ocr_confidence {{float}} NULL,
	policy {{str}} NULL,
	needs_review {{bool}} NOT NULL DEFAULT FALSE,
	extracted_json {{text}} NULL
)`,
	`CREATE TABLE IF NOT EXISTS ticket (
	id {{id}} PRIMARY KEY,
	job_id {{id}} NULL,
	train_number {{str}} NOT NULL DEFAULT '',
	travel_date {{str}} NOT NULL DEFAULT '',
	travel_day {{str}} NULL,
	departure_time {{str}} NOT NULL DEFAULT '',
	seat {{str}} NOT NULL DEFAULT '',
	departure_station {{str}} NOT NULL DEFAULT '',
	arrival_station {{str}} NOT NULL DEFAULT '',
	ticket_gate {{str}} NOT NULL DEFAULT '',
	edited {{bool}} NOT NULL DEFAULT FALSE,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
)`,
}

var indexes = []string{
	`CREATE INDEX {{ifnot}}idx_extract_job_file ON extract_job (file_id)`,
	`CREATE INDEX {{ifnot}}idx_ticket_job ON ticket (job_id)`,
	`CREATE INDEX {{ifnot}}idx_ticket_day ON ticket (travel_day)`,
}

var columnTypes = map[string]*strings.Replacer{
	dialect.SQLite: strings.NewReplacer(
		"{{id}}", "TEXT", "{{hash}}", "TEXT", "{{str}}", "TEXT", "{{text}}", "TEXT",
		"{{ts}}", "DATETIME", "{{bool}}", "BOOLEAN", "{{float}}", "REAL", "{{int64}}", "INTEGER",
		"{{ifnot}}", "IF NOT EXISTS ",
	),
	dialect.Postgres: strings.NewReplacer(
		"{{id}}", "TEXT", "{{hash}}", "TEXT", "{{str}}", "TEXT", "{{text}}", "TEXT",
		"{{ts}}", "TIMESTAMPTZ", "{{bool}}", "BOOLEAN", "{{float}}", "REAL", "{{int64}}", "BIGINT",
		"{{ifnot}}", "IF NOT EXISTS ",
	),
	dialect.MySQL: strings.NewReplacer(
		"{{id}}", "VARCHAR(36)", "{{hash}}", "VARCHAR(64)", "{{str}}", "VARCHAR(255)", "{{text}}", "LONGTEXT",
		"{{ts}}", "DATETIME(6)", "{{bool}}", "BOOLEAN", "{{float}}", "FLOAT", "{{int64}}", "BIGINT",
		"{{ifnot}}", "",
	),
}

// mysqlDuplicateKeyName is returned when an index already exists; MySQL has
// no CREATE INDEX IF NOT EXISTS.
const mysqlDuplicateKeyName = 1061

// Migrate creates the tables and indexes if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	r := columnTypes[s.dialect]
	for _, ddl := range tables {
		if err := s.drv.Exec(ctx, r.Replace(ddl), []any{}, nil); err != nil {
			s.logger.Error("db.migrate.failed", "error", err)
			return err
		}
	}
	for _, ddl := range indexes {
		err := s.drv.Exec(ctx, r.Replace(ddl), []any{}, nil)
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateKeyName {
			err = nil
		}
		if err != nil {
			s.logger.Error("db.migrate.failed", "error", err)
			return err
		}
	}
	s.logger.Info("db.migrate.ok", "dialect", s.dialect)
	return nil
}
