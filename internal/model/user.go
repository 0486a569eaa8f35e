package model

import "time"

// User 表示系统用户。
type User struct {
	ID           uint      `gorm:"primaryKey"`                             // 用户 ID
	Username     string    `gorm:"type:varchar(191);uniqueIndex;not null"` // 用户名（唯一）
	Email        string    `gorm:"type:varchar(191)"`                      // 邮箱
	PasswordHash string    `gorm:"not null"`                               // bcrypt 哈希
	CreatedAt    time.Time // 注册时间

	Tasks []Task `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
}
