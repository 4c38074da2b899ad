package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/pkg/crypto"
	"gorm.io/gorm"
)

type ConnectionGormRepository struct {
	db *gorm.DB
}

func NewConnectionGormRepository(db *gorm.DB) *ConnectionGormRepository {
	return &ConnectionGormRepository{db: db}
}

func (r *ConnectionGormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&connectionModel{}, &channelModel{})
}

// Insert stores the connection and its channel secret atomically.
func (r *ConnectionGormRepository) Insert(ctx context.Context, conn domain.Connection, secret domain.ChannelSecret) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&connectionModel{}).Where("instance_name = ?", conn.InstanceName).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrDuplicateInstance
		}

		m := toConnectionModel(conn)
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("insert connection: %w", err)
		}

		ch := channelModel{
			InstanceName: conn.InstanceName,
			SecretHash:   secret.SecretHash,
			CreatedAt:    conn.CreatedAt.UTC(),
		}
		if err := tx.Save(&ch).Error; err != nil {
			return fmt.Errorf("insert channel secret: %w", err)
		}
		return nil
	})
}

func (r *ConnectionGormRepository) FindByID(ctx context.Context, id string) (domain.Connection, error) {
	var m connectionModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Connection{}, domain.ErrConnectionNotFound
		}
		return domain.Connection{}, err
	}
	return fromConnectionModel(m), nil
}

func (r *ConnectionGormRepository) FindByInstance(ctx context.Context, instanceName string) (domain.Connection, error) {
	var m connectionModel
	if err := r.db.WithContext(ctx).First(&m, "instance_name = ?", instanceName).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Connection{}, domain.ErrConnectionNotFound
		}
		return domain.Connection{}, err
	}
	return fromConnectionModel(m), nil
}

// ListForWorkspace returns the workspace connections plus its quota. A
// workspace without a row gets the default limit.
func (r *ConnectionGormRepository) ListForWorkspace(ctx context.Context, workspaceID string) ([]domain.Connection, domain.Quota, error) {
	var models []connectionModel
	if err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, domain.Quota{}, err
	}

	limit := domain.DefaultMaxConnections
	var ws workspaceModel
	err := r.db.WithContext(ctx).Select("max_connections").First(&ws, "id = ?", workspaceID).Error
	switch {
	case err == nil:
		limit = ws.MaxConnections
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, domain.Quota{}, err
	}

	res := make([]domain.Connection, len(models))
	for i, m := range models {
		res[i] = fromConnectionModel(m)
	}
	return res, domain.Quota{Used: len(res), Limit: limit}, nil
}

func (r *ConnectionGormRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	if err := r.db.WithContext(ctx).Model(&connectionModel{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		out[domain.Status(row.Status)] = row.Total
	}
	return out, nil
}

// UpsertStatus is a conditional UPDATE: the row only changes when u.At is at
// least as recent as the stored updated_at, so concurrent writers converge on
// the latest report.
func (r *ConnectionGormRepository) UpsertStatus(ctx context.Context, instanceName string, u domain.StatusUpdate) (bool, error) {
	if !u.Status.Valid() {
		return false, fmt.Errorf("%w: %q", domain.ErrInvalidTransition, u.Status)
	}
	at := u.At.UTC()
	if u.At.IsZero() {
		at = time.Now().UTC()
	}

	updates := map[string]any{
		"status":     string(u.Status),
		"updated_at": at,
	}
	if u.PhoneNumber != nil {
		updates["phone_number"] = *u.PhoneNumber
	}
	if u.Status == domain.StatusConnected {
		updates["qr_code"] = ""
		updates["pairing_code"] = ""
		updates["last_activity_at"] = at
	} else {
		if u.QRCode != nil {
			updates["qr_code"] = *u.QRCode
		}
		if u.PairingCode != nil {
			updates["pairing_code"] = *u.PairingCode
		}
	}

	res := r.db.WithContext(ctx).Model(&connectionModel{}).
		Where("instance_name = ? AND updated_at <= ?", instanceName, at).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	return false, r.ensureExists(ctx, instanceName)
}

// SetQRCode stores a QR for a connection that is not connected yet. Records
// still being created or previously dropped move to qr.
func (r *ConnectionGormRepository) SetQRCode(ctx context.Context, instanceName string, u domain.QRUpdate) (bool, error) {
	at := u.At.UTC()
	if u.At.IsZero() {
		at = time.Now().UTC()
	}

	res := r.db.WithContext(ctx).Model(&connectionModel{}).
		Where("instance_name = ? AND status <> ? AND updated_at <= ?", instanceName, string(domain.StatusConnected), at).
		Updates(map[string]any{
			"qr_code":      u.QRCode,
			"pairing_code": u.PairingCode,
			"updated_at":   at,
			"status": gorm.Expr("CASE WHEN status IN (?, ?, ?) THEN ? ELSE status END",
				string(domain.StatusCreating), string(domain.StatusDisconnected), string(domain.StatusError),
				string(domain.StatusQR)),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	return false, r.ensureExists(ctx, instanceName)
}

func (r *ConnectionGormRepository) TouchActivity(ctx context.Context, instanceName string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&connectionModel{}).
		Where("instance_name = ?", instanceName).
		Update("last_activity_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

// Delete removes the connection and its channel secret. Callers must have
// deprovisioned the remote instance first.
func (r *ConnectionGormRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m connectionModel
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrConnectionNotFound
			}
			return err
		}
		if err := tx.Delete(&channelModel{}, "instance_name = ?", m.InstanceName).Error; err != nil {
			return err
		}
		return tx.Delete(&connectionModel{}, "id = ?", id).Error
	})
}

// FindChannelBySecret resolves a webhook secret. The previous secret keeps
// working until previous_valid_until.
func (r *ConnectionGormRepository) FindChannelBySecret(ctx context.Context, secret string, now time.Time) (domain.ChannelSecret, error) {
	if secret == "" {
		return domain.ChannelSecret{}, domain.ErrInvalidSecret
	}
	hash := crypto.HashSecret(secret)

	var m channelModel
	err := r.db.WithContext(ctx).
		Where("secret_hash = ?", hash).
		Or("previous_secret_hash = ? AND previous_valid_until > ?", hash, now.UTC()).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ChannelSecret{}, domain.ErrInvalidSecret
		}
		return domain.ChannelSecret{}, err
	}
	return fromChannelModel(m), nil
}

func (r *ConnectionGormRepository) RotateChannelSecret(ctx context.Context, instanceName, newSecret string, graceUntil time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m channelModel
		if err := tx.First(&m, "instance_name = ?", instanceName).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrChannelNotFound
			}
			return err
		}
		now := time.Now().UTC()
		until := graceUntil.UTC()
		m.PreviousSecretHash = m.SecretHash
		m.PreviousValidUntil = &until
		m.SecretHash = crypto.HashSecret(newSecret)
		m.RotatedAt = &now
		return tx.Save(&m).Error
	})
}

func (r *ConnectionGormRepository) ensureExists(ctx context.Context, instanceName string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&connectionModel{}).Where("instance_name = ?", instanceName).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}
