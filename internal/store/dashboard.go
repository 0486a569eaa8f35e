package store

import (
	"context"
	"fmt"
	"time"

	"tasktracker/internal/model"

	"gorm.io/gorm"
)

const (
	dashboardWindow      = 7 * 24 * time.Hour
	dashboardRecentLimit = 5
	dayLayout            = "2006-01-02"
)

type priorityCount struct {
	Priority model.Priority
	Total    int64
}

type dayCount struct {
	Day   sqlDay
	Total int64
}

// sqlDay 兼容不同驱动返回的 DATE() 结果（time.Time / []byte / string）。
type sqlDay string

func (d *sqlDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = ""
	case time.Time:
		*d = sqlDay(v.Format(dayLayout))
	case []byte:
		*d = sqlDay(truncateDay(string(v)))
	case string:
		*d = sqlDay(truncateDay(v))
	default:
		return fmt.Errorf("scan day: unsupported type %T", src)
	}
	return nil
}

func truncateDay(s string) string {
	if len(s) > len(dayLayout) {
		return s[:len(dayLayout)]
	}
	return s
}

// Aggregate 生成用户的仪表盘快照。
//
// 四个聚合查询在同一个读事务中执行；在支持快照读的引擎上（InnoDB 默认的
// REPEATABLE READ、SQLite）结果彼此一致，其余引擎只保证每个子查询自身一致。
func (s *TaskStore) Aggregate(ctx context.Context, ownerID uint) (*model.DashboardSnapshot, error) {
	now := s.now()
	snap := &model.DashboardSnapshot{
		TasksOverTime: model.TasksOverTime{Dates: []string{}, Counts: []int64{}},
		RecentTasks:   []model.RecentTask{},
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Task{}).
			Where("owner_id = ?", ownerID).
			Count(&snap.TotalTasks).Error; err != nil {
			return fmt.Errorf("count tasks: %w", err)
		}

		var priorities []priorityCount
		if err := tx.Model(&model.Task{}).
			Select("priority, COUNT(*) AS total").
			Where("owner_id = ?", ownerID).
			Group("priority").
			Scan(&priorities).Error; err != nil {
			return fmt.Errorf("priority distribution: %w", err)
		}
		for _, p := range priorities {
			switch p.Priority {
			case model.PriorityNotImportant:
				snap.PriorityDistribution.NotImportant = p.Total
			case model.PriorityImportant:
				snap.PriorityDistribution.Important = p.Total
			case model.PriorityVeryImportant:
				snap.PriorityDistribution.VeryImportant = p.Total
			}
		}

		var days []dayCount
		if err := tx.Model(&model.Task{}).
			Select("DATE(date_added) AS day, COUNT(*) AS total").
			Where("owner_id = ? AND date_added >= ?", ownerID, now.Add(-dashboardWindow)).
			Group("DATE(date_added)").
			Order("day ASC").
			Scan(&days).Error; err != nil {
			return fmt.Errorf("tasks over time: %w", err)
		}
		for _, d := range days {
			snap.TasksOverTime.Dates = append(snap.TasksOverTime.Dates, string(d.Day))
			snap.TasksOverTime.Counts = append(snap.TasksOverTime.Counts, d.Total)
		}

		var recent []model.Task
		if err := tx.Where("owner_id = ?", ownerID).
			Order("date_added DESC, id DESC").
			Limit(dashboardRecentLimit).
			Find(&recent).Error; err != nil {
			return fmt.Errorf("recent tasks: %w", err)
		}
		for _, t := range recent {
			snap.RecentTasks = append(snap.RecentTasks, model.RecentTask{
				ID:        t.ID,
				Name:      t.Name,
				Priority:  t.Priority,
				DateAdded: t.DateAdded.UTC().Format(time.RFC3339),
			})
		}
		return nil
	})
	if err != nil {
		return nil, translate("dashboard", err)
	}

	snap.CompletedTasks = 0
	snap.PendingTasks = snap.TotalTasks - snap.CompletedTasks
	snap.HighPriorityTasks = snap.PriorityDistribution.VeryImportant
	return snap, nil
}
