package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"fleetsync/internal/opslog"
	"fleetsync/internal/record"
	"fleetsync/internal/repository"
)

const StatusFinalized = "Finalizada"

var ErrInvalidStatusUpdate = errors.New("task id and status are required")

type StatusUpdater interface {
	UpdateTaskStatus(ctx context.Context, taskID, status string) error
}

// TaskStatusService pushes a status change to ClickUp and mirrors it into the
// stored task row so readers see it before the next sync cycle.
type TaskStatusService struct {
	Client     StatusUpdater
	Store      repository.RowStore
	Collection string
	Ops        *opslog.Client
	Logger     *zap.Logger
}

type StatusResult struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Color   string `json:"color"`
	Patched bool   `json:"patched"`
}

// StatusColor maps a status name to the color shown next to it.
func StatusColor(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	switch {
	case strings.Contains(s, "final"), strings.Contains(s, "conclu"), strings.Contains(s, "fechad"):
		return "#10B981"
	case strings.Contains(s, "cancel"):
		return "#EF4444"
	case strings.Contains(s, "pernoite"):
		return "#F59E0B"
	default:
		return "#3B82F6"
	}
}

func (s *TaskStatusService) UpdateStatus(ctx context.Context, taskID, status string) (StatusResult, error) {
	taskID = strings.TrimSpace(taskID)
	status = strings.TrimSpace(status)
	res := StatusResult{TaskID: taskID, Status: status, Color: StatusColor(status)}
	if taskID == "" || status == "" {
		return res, ErrInvalidStatusUpdate
	}
	if err := s.Client.UpdateTaskStatus(ctx, taskID, status); err != nil {
		return res, fmt.Errorf("update clickup status: %w", err)
	}
	if s.Store != nil && s.Collection != "" {
		patched, err := s.Store.PatchRecord(ctx, s.Collection, taskID, map[string]any{
			record.ColStatus:      status,
			record.ColStatusColor: res.Color,
		})
		if err != nil {
			// upstream already changed; the next sync cycle repairs the row
			s.logger().Warn("status mirrored upstream but row patch failed",
				zap.String("task_id", taskID),
				zap.Error(err),
			)
		}
		res.Patched = patched
	}
	s.logger().Info("task status updated",
		zap.String("task_id", taskID),
		zap.String("status", status),
		zap.Bool("patched", res.Patched),
	)
	opslog.BestEffort(s.Ops, "task_status", "info", map[string]any{"task_id": taskID, "status": status})
	return res, nil
}

func (s *TaskStatusService) Finalize(ctx context.Context, taskID string) (StatusResult, error) {
	return s.UpdateStatus(ctx, taskID, StatusFinalized)
}

func (s *TaskStatusService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
