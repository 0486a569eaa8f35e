package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tasktracker/internal/api/auth"
	"tasktracker/internal/model"
)

const demoUsername = "demo"

var demoTasks = []struct {
	name     string
	priority model.Priority
}{
	{"Buy groceries", model.PriorityImportant},
	{"Finish quarterly report", model.PriorityVeryImportant},
	{"Water the plants", model.PriorityNotImportant},
}

// SeedDemoData 创建演示用户及示例任务，用户已存在时不做任何修改。
func (s *Server) SeedDemoData(ctx context.Context) error {
	password := s.cfg.App.DemoPassword
	if password == "" {
		return fmt.Errorf("seed demo: demo password is empty")
	}

	id, err := s.authSvc.Register(ctx, demoUsername, "", password)
	if errors.Is(err, auth.ErrUsernameTaken) {
		s.logger.Info("demo user already present, skip seeding")
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed demo user: %w", err)
	}

	for _, t := range demoTasks {
		if _, err := s.tasks.Insert(ctx, t.name, t.priority, id); err != nil {
			return fmt.Errorf("seed demo task %q: %w", t.name, err)
		}
	}
	s.invalidateDashboard(ctx, id)

	s.logger.Info("demo data seeded", slog.Uint64("user_id", uint64(id)), slog.Int("tasks", len(demoTasks)))
	return nil
}
