package model

// PriorityDistribution 各优先级的任务数量。
type PriorityDistribution struct {
	NotImportant  int64 `json:"notImportant"`
	Important     int64 `json:"important"`
	VeryImportant int64 `json:"veryImportant"`
}

// TasksOverTime 最近 7 天按天统计的新增任务数。
//
// 没有任务的日期不出现在序列中（不补零）。
type TasksOverTime struct {
	Dates  []string `json:"dates"`
	Counts []int64  `json:"counts"`
}

// RecentTask 仪表盘最近任务条目。
type RecentTask struct {
	ID        uint     `json:"id"`
	Name      string   `json:"name"`
	Priority  Priority `json:"priority"`
	DateAdded string   `json:"date_added"`
}

// DashboardSnapshot 仪表盘聚合数据。
//
// CompletedTasks 目前恒为 0（任务完成状态尚未建模），因此 PendingTasks == TotalTasks。
type DashboardSnapshot struct {
	TotalTasks           int64                `json:"totalTasks"`
	CompletedTasks       int64                `json:"completedTasks"`
	PendingTasks         int64                `json:"pendingTasks"`
	HighPriorityTasks    int64                `json:"highPriorityTasks"`
	PriorityDistribution PriorityDistribution `json:"priorityDistribution"`
	TasksOverTime        TasksOverTime        `json:"tasksOverTime"`
	RecentTasks          []RecentTask         `json:"recentTasks"`
}
