package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/echoservice/internal/storage"
)

// ConnectionStringRepository implements storage.ConnectionStringStore with
// GORM. It is shared by the PostgreSQL and SQLite backends.
type ConnectionStringRepository struct {
	db *gorm.DB
}

// NewConnectionStringRepository creates a GORM-backed connection string store.
func NewConnectionStringRepository(db *gorm.DB) *ConnectionStringRepository {
	return &ConnectionStringRepository{db: db}
}

func (r *ConnectionStringRepository) Get(ctx context.Context, name string) (*storage.ConnectionString, error) {
	var model ConnectionStringModel
	err := r.db.WithContext(ctx).Where("name_key = ?", nameKey(name)).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", storage.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("querying connection string %q: %w", name, err)
	}
	return toConnectionString(&model), nil
}

func (r *ConnectionStringRepository) List(ctx context.Context) ([]storage.ConnectionString, error) {
	var models []ConnectionStringModel
	if err := r.db.WithContext(ctx).Order("name_key").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing connection strings: %w", err)
	}
	out := make([]storage.ConnectionString, 0, len(models))
	for i := range models {
		out = append(out, *toConnectionString(&models[i]))
	}
	return out, nil
}

func (r *ConnectionStringRepository) Put(ctx context.Context, cs *storage.ConnectionString) error {
	if strings.TrimSpace(cs.Name) == "" {
		return fmt.Errorf("connection string name is required")
	}
	if strings.TrimSpace(cs.Value) == "" {
		return fmt.Errorf("connection string %q: value is required", cs.Name)
	}
	model := ConnectionStringModel{Name: strings.TrimSpace(cs.Name), Value: cs.Value, Provider: cs.Provider}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "value", "provider", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("saving connection string %q: %w", cs.Name, err)
	}
	return nil
}

func (r *ConnectionStringRepository) Delete(ctx context.Context, name string) error {
	res := r.db.WithContext(ctx).Where("name_key = ?", nameKey(name)).Delete(&ConnectionStringModel{})
	if res.Error != nil {
		return fmt.Errorf("deleting connection string %q: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %q", storage.ErrNotFound, name)
	}
	return nil
}

func toConnectionString(m *ConnectionStringModel) *storage.ConnectionString {
	return &storage.ConnectionString{
		Name:      m.Name,
		Value:     m.Value,
		Provider:  m.Provider,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
