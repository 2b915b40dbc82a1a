package repository

import (
	"context"

	"github.com/smallbiznis/pixorder/internal/paymentprovider/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Get(ctx context.Context, db *gorm.DB) (*domain.Settings, error) {
	var item domain.Settings
	err := db.WithContext(ctx).Raw(
		`SELECT id, active_provider, manual_pix_key, manual_pix_copy_paste,
		 manual_pix_display_name, manual_pix_instructions, updated_by, updated_at
		 FROM payment_provider_settings
		 WHERE id = ?
		 LIMIT 1`,
		domain.SettingsRowID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Save(ctx context.Context, db *gorm.DB, s *domain.Settings) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_provider_settings (
			id, active_provider, manual_pix_key, manual_pix_copy_paste,
			manual_pix_display_name, manual_pix_instructions, updated_by, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			active_provider = EXCLUDED.active_provider,
			manual_pix_key = EXCLUDED.manual_pix_key,
			manual_pix_copy_paste = EXCLUDED.manual_pix_copy_paste,
			manual_pix_display_name = EXCLUDED.manual_pix_display_name,
			manual_pix_instructions = EXCLUDED.manual_pix_instructions,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at`,
		domain.SettingsRowID,
		s.ActiveProvider,
		s.ManualPixKey,
		s.ManualPixCopyPaste,
		s.ManualPixDisplayName,
		s.ManualPixInstructions,
		s.UpdatedBy,
		s.UpdatedAt,
	).Error
}
