package model

import "time"

// User 表示系统用户。
//
// Username 是用户的唯一不可变标识，任务通过它与用户关联。
// TelegramChatID 为空表示用户尚未绑定通知渠道。
type User struct {
	ID             uint      `gorm:"primaryKey"`                            // 用户 ID
	Username       string    `gorm:"type:varchar(64);uniqueIndex;not null"` // 用户名（唯一、不可变）
	Password       string    `gorm:"not null"`                              // bcrypt 哈希，永不对外暴露
	TelegramChatID string    `gorm:"type:varchar(64);default:''"`           // 通知目的地（Telegram chat id 或邮箱地址），空表示未绑定
	CreatedAt      time.Time // 注册时间
}

// HasNotifyDestination 返回用户是否已绑定通知渠道。
func (u *User) HasNotifyDestination() bool {
	return u.TelegramChatID != ""
}
