package actor

import (
	"context"
	"database/sql"

	"agendahub/pkg/logger"
)

type Repository struct {
	DB *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{DB: db}
}

func (r *Repository) LoadActors(ctx context.Context) ([]Profile, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT id, name, email, role FROM users ORDER BY id")
	if err != nil {
		logger.Sugar.Errorf("Failed to load actors: %v", err)
		return nil, err
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Role); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
