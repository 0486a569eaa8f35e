package store

import (
	"context"
	"strings"
	"time"

	"tasktracker/internal/model"

	"gorm.io/gorm"
)

// TaskStore 任务存储，所有操作都以 ownerID 为作用域。
type TaskStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewTaskStore 创建任务存储。
func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db, now: time.Now}
}

// Insert 创建任务，DateAdded 由服务端设置。
func (s *TaskStore) Insert(ctx context.Context, name string, priority model.Priority, ownerID uint) (*model.Task, error) {
	task := &model.Task{
		Name:      name,
		Priority:  priority,
		DateAdded: s.now(),
		OwnerID:   ownerID,
	}
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, translate("insert task", err)
	}
	return task, nil
}

// ListAll 返回用户的全部任务，按插入顺序。
func (s *TaskStore) ListAll(ctx context.Context, ownerID uint) ([]model.Task, error) {
	tasks := []model.Task{}
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, translate("list tasks", err)
	}
	return tasks, nil
}

// Update 更新名称与优先级，仅当 id 与 ownerID 同时匹配一行时返回 true。
func (s *TaskStore) Update(ctx context.Context, id uint, name string, priority model.Priority, ownerID uint) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(map[string]interface{}{
			"name":     name,
			"priority": priority,
		})
	if res.Error != nil {
		return false, translate("update task", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Delete 删除任务，语义同 Update。
func (s *TaskStore) Delete(ctx context.Context, id uint, ownerID uint) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&model.Task{})
	if res.Error != nil {
		return false, translate("delete task", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// SearchByName 按名称子串搜索。输入中的 LIKE 通配符按字面匹配。
func (s *TaskStore) SearchByName(ctx context.Context, substring string, ownerID uint) ([]model.Task, error) {
	tasks := []model.Task{}
	if err := s.db.WithContext(ctx).
		Where("owner_id = ? AND name LIKE ? ESCAPE '!'", ownerID, "%"+escapeLike(substring)+"%").
		Order("id ASC").
		Find(&tasks).Error; err != nil {
		return nil, translate("search tasks", err)
	}
	return tasks, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
