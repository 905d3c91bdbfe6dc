package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/3Eeeecho/go-uploadpipe/internal/models"
	"github.com/3Eeeecho/go-uploadpipe/internal/pkg/xerr"
)

// memoryRecordRepository 是 RecordRepository 的内存实现
// 本地存储不可用时作为降级方案使用，仅在进程生命周期内有效
type memoryRecordRepository struct {
	mu      sync.RWMutex
	records map[string]models.UploadRecord
}

// NewMemoryRecordRepository 创建内存 RecordRepository 实例
func NewMemoryRecordRepository() RecordRepository {
	return &memoryRecordRepository{records: make(map[string]models.UploadRecord)}
}

func (r *memoryRecordRepository) Save(ctx context.Context, record *models.UploadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	r.records[record.ID] = *record
	return nil
}

func (r *memoryRecordRepository) FindByID(ctx context.Context, id string) (*models.UploadRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, xerr.NewCodeError(xerr.TaskNotFoundCode, xerr.ErrTaskNotFound)
	}
	rec.Normalize()
	return &rec, nil
}

func (r *memoryRecordRepository) FindAll(ctx context.Context) ([]models.UploadRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.UploadRecord, 0, len(r.records))
	for _, rec := range r.records {
		rec.Normalize()
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRecordRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}
