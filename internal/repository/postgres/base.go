package postgres

import (
	"github.com/jmoiron/sqlx"
)

// BaseRepository holds the shared database handle embedded by the
// concrete repositories. Every operation is a single statement, so
// atomicity comes from the store and no transaction helper is needed.
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}
