package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Capabilities describes what the probed backend supports. It is populated
// once at init (or on explicit reinitialize) and drives strategy selection.
type Capabilities struct {
	Vector  bool
	Trigram bool
}

// DetectCapabilities probes installed Postgres extensions.
func DetectCapabilities(ctx context.Context, db *pgxpool.Pool) (Capabilities, error) {
	rows, err := db.Query(ctx, `SELECT extname FROM pg_extension`)
	if err != nil {
		return Capabilities{}, fmt.Errorf("probe extensions: %w", err)
	}
	defer rows.Close()

	var caps Capabilities
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return Capabilities{}, fmt.Errorf("scan extension row: %w", err)
		}
		switch name {
		case "vector":
			caps.Vector = true
		case "pg_trgm":
			caps.Trigram = true
		}
	}
	return caps, rows.Err()
}
