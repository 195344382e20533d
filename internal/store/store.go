package store

import (
	"context"
	"errors"

	"voltify/internal/model"

	"gorm.io/gorm"
)

// ErrNotFound 表示按条件未命中任何记录。
var ErrNotFound = errors.New("record not found")

// TaskFilter 是任务查询的精确匹配过滤条件，空字段不参与过滤。
// Owner 必填，保证所有查询都限定在单个用户的作用域内。
type TaskFilter struct {
	Owner    string
	Status   string
	Category string
}

// TaskStore 基于 gorm 提供任务存储。
//
// 它只暴露文档存储的四种原语：按条件查询、插入（返回生成的 id）、
// 按 id 打字段补丁、按 id+owner 删除。不提供跨记录事务。
type TaskStore struct {
	db *gorm.DB
}

// NewTaskStore 创建任务存储。
func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// Find 返回满足过滤条件的全部任务。
func (s *TaskStore) Find(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := s.db.WithContext(ctx).Where("owner = ?", filter.Owner)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}

	tasks := []model.Task{}
	if err := query.Order("id").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// FindByID 返回指定 owner 名下的单个任务，未命中返回 ErrNotFound。
func (s *TaskStore) FindByID(ctx context.Context, owner string, id uint) (*model.Task, error) {
	var task model.Task
	err := s.db.WithContext(ctx).Where("id = ? AND owner = ?", id, owner).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Insert 持久化新任务并回填生成的 id。
func (s *TaskStore) Insert(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

// Patch 对指定任务应用字段级更新。字段集由调用方构造，
// 本层不做白名单校验。
func (s *TaskStore) Patch(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", id).Updates(fields).Error
}

// Delete 删除指定 owner 名下的任务，返回删除的行数。
func (s *TaskStore) Delete(ctx context.Context, owner string, id uint) (int64, error) {
	res := s.db.WithContext(ctx).Where("id = ? AND owner = ?", id, owner).Delete(&model.Task{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// UserStore 基于 gorm 提供用户存储。
type UserStore struct {
	db *gorm.DB
}

// NewUserStore 创建用户存储。
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// FindByUsername 按用户名查询用户，未命中返回 ErrNotFound。
func (s *UserStore) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Insert 创建新用户。用户名唯一索引冲突由上层感知处理。
func (s *UserStore) Insert(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

// SetNotifyDestination 覆盖写入用户的通知目的地，幂等。
func (s *UserStore) SetNotifyDestination(ctx context.Context, username string, destination string) error {
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("username = ?", username).
		Update("telegram_chat_id", destination).Error
}

// FindNotifiable 返回所有已绑定通知目的地的用户。
func (s *UserStore) FindNotifiable(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	if err := s.db.WithContext(ctx).Where("telegram_chat_id <> ''").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
