// Package pg wires PostgreSQL through jackc/pgx/v5: pool construction with
// startup retries, goose migrations from an embedded filesystem, transaction
// helpers with retry on serialization conflicts, and SQLSTATE classification.
package pg
