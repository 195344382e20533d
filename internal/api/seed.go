package api

import (
	"context"
	"errors"
	"time"

	"voltify/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// SeedDemoData 初始化演示账号和示例任务，仅在本地环境调用。
//
// 幂等：演示用户已存在时不重复创建任务。
func (s *Server) SeedDemoData(ctx context.Context) error {
	const demoUsername = "demo"

	var user model.User
	err := s.db.WithContext(ctx).Where("username = ?", demoUsername).First(&user).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, hashErr := bcrypt.GenerateFromPassword([]byte("demo1234"), bcrypt.DefaultCost)
	if hashErr != nil {
		return hashErr
	}
	user = model.User{
		Username: demoUsername,
		Password: string(hash),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return err
	}

	due := time.Now().Add(72 * time.Hour).Format(model.DueDateLayout)
	tasks := []model.Task{
		{
			Owner:         demoUsername,
			Title:         "Prepare weekly report",
			Description:   "Collect metrics and summarize progress for the team sync",
			DueDate:       due,
			Status:        model.StatusOpen,
			Category:      "Work",
			EstimatedTime: "2 hours",
		},
		{
			Owner:         demoUsername,
			Title:         "Grocery shopping",
			Description:   "Milk, eggs, bread, coffee",
			DueDate:       time.Now().Add(24 * time.Hour).Format(model.DueDateLayout),
			Status:        model.StatusOpen,
			Category:      "Errands",
			EstimatedTime: "45 minutes",
		},
	}
	for i := range tasks {
		if err := s.db.WithContext(ctx).Create(&tasks[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
