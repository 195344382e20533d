package model

import (
	"time"
)

// 任务状态常量。status 允许自由取值，但这两个值有内建语义：
// 新任务默认为 StatusOpen，只有首次进入 StatusDone 会触发完成通知。
const (
	StatusOpen = "open"
	StatusDone = "done"
)

// DueDateLayout 是 due_date 的唯一合法格式（YYYY-MM-DD）。
const DueDateLayout = "2006-01-02"

// Task 表示一条用户的待办任务。
//
// Owner 在创建时写入且永不变更，所有读写操作都以 owner 为作用域，
// 其他用户无法感知该任务的存在。
type Task struct {
	ID        uint      `gorm:"primaryKey" json:"id"` // 任务唯一标识（存储层分配）
	CreatedAt time.Time `json:"created_at"`           // 创建时间（创建后不可变）
	UpdatedAt time.Time `json:"-"`

	Owner         string `gorm:"type:varchar(64);index;not null" json:"owner"`     // 所属用户名（不可变）
	Title         string `gorm:"type:varchar(255);not null" json:"title"`          // 标题（必填、非空）
	Description   string `gorm:"type:text" json:"description"`                     // 描述（必填、非空）
	DueDate       string `gorm:"type:varchar(10);not null" json:"due_date"`        // 截止日期，YYYY-MM-DD
	Status        string `gorm:"type:varchar(32);default:open" json:"status"`      // 任务状态，创建时固定为 open
	Category      string `gorm:"type:varchar(64);default:''" json:"category"`      // 分类（自由文本，默认为空）
	EstimatedTime string `gorm:"type:varchar(64);default:''" json:"estimated_time"` // 预估耗时（AI 建议或用户填写）
}

// IsOverdue 判断任务是否已过期。
//
// due_date 无法解析时视为未过期，不影响其它操作。
func (t *Task) IsOverdue(now time.Time) bool {
	due, err := time.Parse(DueDateLayout, t.DueDate)
	if err != nil {
		return false
	}
	return now.After(due)
}
