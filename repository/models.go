package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProfileModel is the Bun model for the profiles backing identities.
type ProfileModel struct {
	bun.BaseModel `bun:"table:profiles"`

	ID         uuid.UUID `bun:"id,pk,nullzero,type:uuid"`
	Email      string    `bun:"email"`
	FullName   string    `bun:"full_name"`
	Role       string    `bun:"role,notnull"`
	AdminLevel string    `bun:"admin_level"`
	Verified   bool      `bun:"verified,notnull"`
	AvatarURL  string    `bun:"avatar_url"`
	Phone      string    `bun:"phone"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

// WorkerStatsModel holds the aggregate stats attached to worker profiles.
type WorkerStatsModel struct {
	bun.BaseModel `bun:"table:worker_stats"`

	ProfileID uuid.UUID      `bun:"profile_id,pk,type:uuid"`
	Stats     map[string]any `bun:"stats,type:jsonb"`
	UpdatedAt time.Time      `bun:"updated_at,notnull"`
}
