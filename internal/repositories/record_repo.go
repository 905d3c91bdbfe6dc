package repositories

import (
	"context"
	"errors"

	"github.com/3Eeeecho/go-uploadpipe/internal/models"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/logger"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/xerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordRepository 定义了上传任务记录的持久化操作接口
// 所有方法都可能因底层存储不可用而返回 xerr.ErrStorageUnavailable
type RecordRepository interface {
	// Save 按 ID upsert 一条任务记录
	Save(ctx context.Context, record *models.UploadRecord) error
	// FindByID 按 ID 查找任务记录，未找到时返回 xerr.ErrTaskNotFound
	FindByID(ctx context.Context, id string) (*models.UploadRecord, error)
	// FindAll 返回全部任务记录，按创建时间升序
	FindAll(ctx context.Context) ([]models.UploadRecord, error)
	// Delete 删除指定 ID 的记录，记录不存在时不报错
	Delete(ctx context.Context, id string) error
}

type dbRecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository 创建基于 SQLite 的 RecordRepository 实例
func NewRecordRepository(db *gorm.DB) RecordRepository {
	return &dbRecordRepository{db: db}
}

func (r *dbRecordRepository) Save(ctx context.Context, record *models.UploadRecord) error {
	// 按主键 upsert。不同 ID 的记录各自独立寻址，互不影响
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(record).Error
	if err != nil {
		logger.Error("Save: Failed to save upload record",
			zap.String("id", record.ID), zap.Error(err))
		return xerr.WrapCode(xerr.StorageUnavailableCode, xerr.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *dbRecordRepository) FindByID(ctx context.Context, id string) (*models.UploadRecord, error) {
	var record models.UploadRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.NewCodeError(xerr.TaskNotFoundCode, xerr.ErrTaskNotFound)
		}
		logger.Error("FindByID: Failed to find upload record", zap.String("id", id), zap.Error(err))
		return nil, xerr.WrapCode(xerr.StorageUnavailableCode, xerr.ErrStorageUnavailable, err)
	}
	record.Normalize()
	return &record, nil
}

func (r *dbRecordRepository) FindAll(ctx context.Context) ([]models.UploadRecord, error) {
	var records []models.UploadRecord
	err := r.db.WithContext(ctx).Order("created_at asc, id asc").Find(&records).Error
	if err != nil {
		logger.Error("FindAll: Failed to list upload records", zap.Error(err))
		return nil, xerr.WrapCode(xerr.StorageUnavailableCode, xerr.ErrStorageUnavailable, err)
	}
	for i := range records {
		records[i].Normalize()
	}
	return records, nil
}

func (r *dbRecordRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Delete(&models.UploadRecord{}, "id = ?", id).Error
	if err != nil {
		logger.Error("Delete: Failed to delete upload record", zap.String("id", id), zap.Error(err))
		return xerr.WrapCode(xerr.StorageUnavailableCode, xerr.ErrStorageUnavailable, err)
	}
	return nil
}
