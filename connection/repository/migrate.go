package repository

import (
	"context"

	"gorm.io/gorm"
)

// Migrate creates or updates every table owned by the connection subsystem.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := NewConnectionGormRepository(db).Init(ctx); err != nil {
		return err
	}
	if err := db.WithContext(ctx).AutoMigrate(&workspaceModel{}); err != nil {
		return err
	}
	return NewMessageGormRepository(db).Init(ctx)
}
