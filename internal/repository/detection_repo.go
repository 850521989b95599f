package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/timmy/dmi/internal/domain"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a detection record does not exist.
var ErrNotFound = errors.New("detection record not found")

// DetectionRepository persists analysis outcomes.
type DetectionRepository struct {
	db *gorm.DB
}

// NewDetectionRepository creates a new DetectionRepository.
func NewDetectionRepository(db *gorm.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// Create inserts a record, assigning an ID when empty.
func (r *DetectionRepository) Create(ctx context.Context, rec *domain.DetectionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// Update saves every field of rec.
func (r *DetectionRepository) Update(ctx context.Context, rec *domain.DetectionRecord) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

// GetByID returns the record with the given ID.
func (r *DetectionRepository) GetByID(ctx context.Context, id string) (*domain.DetectionRecord, error) {
	var rec domain.DetectionRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetLatestByIdentifier returns the newest record for a file identifier and
// purpose.
func (r *DetectionRepository) GetLatestByIdentifier(ctx context.Context, identifier, purpose string) (*domain.DetectionRecord, error) {
	var rec domain.DetectionRecord
	err := r.db.WithContext(ctx).
		Where("identifier = ? AND purpose = ?", identifier, purpose).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByIDs returns the records with the given IDs, in no particular order.
func (r *DetectionRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.DetectionRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var recs []domain.DetectionRecord
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// List returns records newest first, optionally filtered by purpose.
func (r *DetectionRepository) List(ctx context.Context, purpose string, limit, offset int) ([]domain.DetectionRecord, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if purpose != "" {
		q = q.Where("purpose = ?", purpose)
	}
	var recs []domain.DetectionRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
