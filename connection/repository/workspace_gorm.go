package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/pkg/crypto"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WorkspaceGormRepository struct {
	db     *gorm.DB
	cipher *crypto.Cipher
}

// NewWorkspaceGormRepository seals automation secrets with cipher.
func NewWorkspaceGormRepository(db *gorm.DB, cipher *crypto.Cipher) *WorkspaceGormRepository {
	return &WorkspaceGormRepository{db: db, cipher: cipher}
}

func (r *WorkspaceGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&workspaceModel{})
}

func (r *WorkspaceGormRepository) Create(ctx context.Context, ws domain.Workspace) error {
	now := time.Now().UTC()
	if ws.MaxConnections <= 0 {
		ws.MaxConnections = domain.DefaultMaxConnections
	}
	sealed, err := r.cipher.Encrypt(ws.AutomationSecret)
	if err != nil {
		return fmt.Errorf("seal automation secret: %w", err)
	}
	m := workspaceModel{
		ID:                   ws.ID,
		Name:                 ws.Name,
		MaxConnections:       ws.MaxConnections,
		AutomationWebhookURL: ws.AutomationWebhookURL,
		AutomationSecret:     sealed,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *WorkspaceGormRepository) GetByID(ctx context.Context, id string) (domain.Workspace, error) {
	var m workspaceModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Workspace{}, domain.ErrWorkspaceNotFound
		}
		return domain.Workspace{}, err
	}
	return r.fromModel(m)
}

// Ensure returns the workspace, creating it with defaults when the CRUD layer
// has not provisioned a row yet.
func (r *WorkspaceGormRepository) Ensure(ctx context.Context, id string) (domain.Workspace, error) {
	now := time.Now().UTC()
	m := workspaceModel{
		ID:             id,
		Name:           id,
		MaxConnections: domain.DefaultMaxConnections,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return domain.Workspace{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *WorkspaceGormRepository) UpdateAutomation(ctx context.Context, id string, automation domain.Automation) error {
	sealed, err := r.cipher.Encrypt(automation.Secret)
	if err != nil {
		return fmt.Errorf("seal automation secret: %w", err)
	}
	res := r.db.WithContext(ctx).Model(&workspaceModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"automation_webhook_url": automation.URL,
			"automation_secret":      sealed,
			"updated_at":             time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrWorkspaceNotFound
	}
	return nil
}

// Automation resolves the outbound automation target. A missing workspace
// means no automation.
func (r *WorkspaceGormRepository) Automation(ctx context.Context, id string) (domain.Automation, error) {
	ws, err := r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrWorkspaceNotFound) {
			return domain.Automation{}, nil
		}
		return domain.Automation{}, err
	}
	return domain.Automation{URL: ws.AutomationWebhookURL, Secret: ws.AutomationSecret}, nil
}

func (r *WorkspaceGormRepository) fromModel(m workspaceModel) (domain.Workspace, error) {
	secret, err := r.cipher.Decrypt(m.AutomationSecret)
	if err != nil {
		return domain.Workspace{}, fmt.Errorf("open automation secret: %w", err)
	}
	return domain.Workspace{
		ID:                   m.ID,
		Name:                 m.Name,
		MaxConnections:       m.MaxConnections,
		AutomationWebhookURL: m.AutomationWebhookURL,
		AutomationSecret:     secret,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}, nil
}
