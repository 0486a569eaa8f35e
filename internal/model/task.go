package model

import (
	"strings"
	"time"
)

// Priority 表示任务优先级，存储值与前端展示值一致。
type Priority string

const (
	PriorityNotImportant  Priority = "not important"
	PriorityImportant     Priority = "important"
	PriorityVeryImportant Priority = "very important"
)

// ParsePriority 解析优先级字符串。
//
// 同时接受空格与连字符两种写法（"very important" / "very-important"），
// 大小写不敏感。空字符串返回 PriorityNotImportant。
func ParsePriority(s string) (Priority, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", " ")
	v = strings.ReplaceAll(v, "_", " ")
	switch Priority(v) {
	case "":
		return PriorityNotImportant, true
	case PriorityNotImportant, PriorityImportant, PriorityVeryImportant:
		return Priority(v), true
	}
	return "", false
}

// Task 表示用户的一条待办任务。
//
// Name 与 Priority 可以更新；OwnerID 与 DateAdded 创建后不可变。
type Task struct {
	ID        uint      `gorm:"primaryKey"`                 // 任务唯一标识
	Name      string    `gorm:"type:varchar(255);not null"` // 任务名称
	Priority  Priority  `gorm:"type:varchar(32);not null"`  // 优先级
	DateAdded time.Time `gorm:"not null;index"`             // 创建时间（服务端设置）
	OwnerID   uint      `gorm:"not null;index"`             // 所属用户 ID
}
