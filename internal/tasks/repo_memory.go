package tasks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory task store for tests.
type MemoryRepo struct {
	mu      sync.Mutex
	nextID  int64
	tasks   map[int64]Task
	deleted map[int64]bool
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{tasks: map[int64]Task{}, deleted: map[int64]bool{}}
}

func (r *MemoryRepo) Create(_ context.Context, t Task) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := time.Now().UTC()
	t.ID = r.nextID
	t.CreatedAt, t.UpdatedAt = now, now
	r.tasks[t.ID] = t
	return t, nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id int64) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live(id)
}

func (r *MemoryRepo) live(id int64) (Task, error) {
	t, ok := r.tasks[id]
	if !ok || r.deleted[id] {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepo) ListByUser(_ context.Context, userID int64) ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Task{}
	for id, t := range r.tasks {
		if t.UserID == userID && !r.deleted[id] {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) Modify(_ context.Context, id int64, fn ModifyFunc) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, err := r.live(id)
	if err != nil {
		return Task{}, err
	}
	next, changed, err := fn(cur)
	if err != nil {
		return Task{}, err
	}
	if !changed {
		return cur, nil
	}
	cur.Title, cur.Description = next.Title, next.Description
	cur.UpdatedAt = time.Now().UTC()
	r.tasks[id] = cur
	return cur, nil
}

func (r *MemoryRepo) SoftDelete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.live(id); err != nil {
		return err
	}
	r.deleted[id] = true
	for cid, t := range r.tasks {
		if t.ParentTaskID != nil && *t.ParentTaskID == id {
			r.deleted[cid] = true
		}
	}
	return nil
}
