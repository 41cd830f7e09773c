package entry

import "slices"

// Status 条目状态
type Status string

const (
	StatusCreated   Status = "created"   // 已创建，可编辑输入
	StatusRunning   Status = "running"   // 执行中
	StatusCompleted Status = "completed" // 执行成功
	StatusFailed    Status = "failed"    // 执行失败
)

// validTransitions 定义合法的状态转换，终态没有出边
var validTransitions = map[Status][]Status{
	StatusCreated: {StatusRunning},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}
