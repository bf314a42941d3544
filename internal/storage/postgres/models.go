package postgres

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectionStringModel maps to the "connection_strings" table.
// NameKey is the lower-cased name and carries the uniqueness constraint.
type ConnectionStringModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null"`
	NameKey   string    `gorm:"not null;uniqueIndex"`
	Value     string    `gorm:"type:text;not null"`
	Provider  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ConnectionStringModel) TableName() string { return "connection_strings" }

func (m *ConnectionStringModel) BeforeSave(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.NameKey = nameKey(m.Name)
	return nil
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
