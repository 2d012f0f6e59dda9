package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"activity-platform/internal/activity"
	"activity-platform/internal/event"
	"activity-platform/pkg/logger"
)

// ActivitySink accepts activities for asynchronous recording.
type ActivitySink interface {
	Submit(ctx context.Context, e activity.Entry) bool
}

type Service struct {
	repo       Repository
	activities ActivitySink
}

func NewService(repo Repository, activities ActivitySink) *Service {
	return &Service{repo: repo, activities: activities}
}

// Create stores a task for actor. A parent, when given, must be a live task
// owned by the same user.
func (s *Service) Create(ctx context.Context, actor event.Actor, in CreateInput) (Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if in.ParentTaskID != nil {
		parent, err := s.repo.GetByID(ctx, *in.ParentTaskID)
		if errors.Is(err, ErrNotFound) {
			return Task{}, ErrParentNotFound
		}
		if err != nil {
			return Task{}, err
		}
		if parent.UserID != actor.ID {
			return Task{}, ErrForbidden
		}
	}

	t, err := s.repo.Create(ctx, Task{
		UserID:       actor.ID,
		Title:        title,
		Description:  in.Description,
		ParentTaskID: in.ParentTaskID,
	})
	if err != nil {
		return Task{}, err
	}

	created, _, _ := activity.TaskTypes(t.IsSubtask())
	s.record(ctx, actor, created, t.ID, t.Snapshot())
	return t, nil
}

// Get returns a live task owned by userID.
func (s *Service) Get(ctx context.Context, userID, id int64) (Task, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if t.UserID != userID {
		return Task{}, ErrForbidden
	}
	return t, nil
}

func (s *Service) List(ctx context.Context, userID int64) ([]Task, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Update applies the set fields and records the {field: {old, new}} diff.
// An update that changes nothing records nothing.
func (s *Service) Update(ctx context.Context, actor event.Actor, id int64, in UpdateInput) (Task, error) {
	var changes map[string]any
	t, err := s.repo.Modify(ctx, id, func(cur Task) (Task, bool, error) {
		if cur.UserID != actor.ID {
			return Task{}, false, ErrForbidden
		}
		next, c, err := apply(cur, in)
		changes = c
		return next, len(c) > 0, err
	})
	if err != nil {
		return Task{}, err
	}
	if len(changes) == 0 {
		return t, nil
	}

	_, updated, _ := activity.TaskTypes(t.IsSubtask())
	s.record(ctx, actor, updated, t.ID, map[string]any{"id": t.ID, "changes": changes})
	return t, nil
}

func apply(cur Task, in UpdateInput) (Task, map[string]any, error) {
	next := cur
	changes := map[string]any{}
	if in.Title != nil {
		v := strings.TrimSpace(*in.Title)
		if v == "" {
			return Task{}, nil, fmt.Errorf("%w: title cannot be blank", ErrInvalidInput)
		}
		if v != cur.Title {
			changes["title"] = map[string]any{"old": cur.Title, "new": v}
			next.Title = v
		}
	}
	if in.Description != nil {
		v := *in.Description
		if cur.Description == nil || *cur.Description != v {
			changes["description"] = map[string]any{"old": deref(cur.Description), "new": v}
			next.Description = &v
		}
	}
	return next, changes, nil
}

// Delete soft-deletes a task owned by actor along with its subtasks.
func (s *Service) Delete(ctx context.Context, actor event.Actor, id int64) error {
	t, err := s.Get(ctx, actor.ID, id)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	_, _, deleted := activity.TaskTypes(t.IsSubtask())
	s.record(ctx, actor, deleted, t.ID, t.Snapshot())
	return nil
}

func (s *Service) record(ctx context.Context, actor event.Actor, typ activity.Type, taskID int64, data map[string]any) {
	s.activities.Submit(ctx, activity.Entry{
		UserID:    actor.ID,
		Type:      typ,
		RequestID: logger.RequestID(ctx),
		Data:      data,
		TaskID:    &taskID,
		Actor:     actor,
		Meta:      logger.Meta(ctx).Map(),
	})
}
