package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"activity-platform/internal/activity"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// MaxRange bounds a single summary so it cannot scan the whole log.
const MaxRange = 31 * 24 * time.Hour

const topUsers = 10

// Source abstracts data access for reporting.
//
// IMPORTANT:
//   - Implementations query the append-only activity log, never live task rows.
type Source interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]activity.Record, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

func (s *Service) ActivitySummary(ctx context.Context, req SummaryRequest) (ActivitySummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return ActivitySummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > MaxRange {
		return ActivitySummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return ActivitySummary{}, errors.New("reporting: source not configured")
	}

	rows, err := s.src.ListBetween(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return ActivitySummary{}, err
	}

	out := ActivitySummary{Range: req.Range, UserID: req.UserID, ByType: map[activity.Type]int{}, TopUsers: []UserCount{}}
	perUser := map[int64]int{}
	tasks := map[int64]struct{}{}
	for _, r := range rows {
		if req.UserID != nil && r.UserID != *req.UserID {
			continue
		}
		out.TotalActivities++
		out.ByType[r.Type]++
		perUser[r.UserID]++
		if r.TaskID != nil {
			tasks[*r.TaskID] = struct{}{}
		}
	}
	out.ActiveUsers = len(perUser)
	out.TasksTouched = len(tasks)

	for id, n := range perUser {
		out.TopUsers = append(out.TopUsers, UserCount{UserID: id, Activities: n})
	}
	sort.Slice(out.TopUsers, func(i, j int) bool {
		a, b := out.TopUsers[i], out.TopUsers[j]
		if a.Activities != b.Activities {
			return a.Activities > b.Activities
		}
		return a.UserID < b.UserID
	})
	if len(out.TopUsers) > topUsers {
		out.TopUsers = out.TopUsers[:topUsers]
	}
	return out, nil
}
