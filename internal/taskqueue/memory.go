package taskqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryBroker is an in-process broker used by tests and small deployments.
type MemoryBroker struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewMemoryBroker returns an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{tasks: make(map[string]*Task)}
}

func (b *MemoryBroker) Enqueue(_ context.Context, task *Task) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := *task
	cp.State = StatePending
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	b.tasks[cp.ID] = &cp
	return nil
}

func (b *MemoryBroker) Claim(_ context.Context, queue string) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	var candidates []*Task
	for _, task := range b.tasks {
		if task.Queue == queue && task.Eligible(now) {
			candidates = append(candidates, task)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoTask
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	task := candidates[0]
	task.State = StateClaimed
	claimed := now
	task.ClaimedAt = &claimed
	task.LastHeartbeat = &claimed
	task.UpdatedAt = now

	cp := *task
	return &cp, nil
}

func (b *MemoryBroker) Heartbeat(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if task, ok := b.tasks[id]; ok && task.State == StateClaimed {
		now := time.Now().UTC()
		task.LastHeartbeat = &now
		task.UpdatedAt = now
	}
	return nil
}

func (b *MemoryBroker) Ack(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tasks, id)
	return nil
}

func (b *MemoryBroker) Fail(_ context.Context, id string, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.tasks[id]
	if !ok || task.State != StateClaimed {
		return nil
	}
	task.Attempts++
	task.ClaimedAt = nil
	task.LastHeartbeat = nil
	task.LastError = reason
	task.UpdatedAt = time.Now().UTC()
	if task.Attempts >= task.MaxAttempts {
		task.State = StateDead
	} else {
		task.State = StatePending
	}
	return nil
}

func (b *MemoryBroker) Counts(_ context.Context, queue string) (Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := Counts{}
	for _, task := range b.tasks {
		if task.Queue != queue {
			continue
		}
		switch task.State {
		case StatePending:
			counts.Pending++
		case StateClaimed:
			counts.InFlight++
		case StateDead:
			counts.Failed++
		}
	}
	counts.Total = counts.Pending + counts.InFlight + counts.Failed
	return counts, nil
}

func (b *MemoryBroker) Queues(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := map[string]struct{}{}
	var queues []string
	for _, task := range b.tasks {
		if _, ok := seen[task.Queue]; ok {
			continue
		}
		seen[task.Queue] = struct{}{}
		queues = append(queues, task.Queue)
	}
	sort.Strings(queues)
	return queues, nil
}

func (b *MemoryBroker) ListDead(_ context.Context, queue string) ([]*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dead []*Task
	for _, task := range b.tasks {
		if task.State != StateDead {
			continue
		}
		if queue != "" && task.Queue != queue {
			continue
		}
		cp := *task
		dead = append(dead, &cp)
	}
	sort.Slice(dead, func(i, j int) bool {
		return dead[i].CreatedAt.Before(dead[j].CreatedAt)
	})
	return dead, nil
}

func (b *MemoryBroker) RetryDead(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.tasks[id]
	if !ok || task.State != StateDead {
		return fmt.Errorf("task %s: %w", id, ErrNoTask)
	}
	task.State = StatePending
	task.Attempts = 0
	task.LastError = ""
	task.NotBefore = nil
	task.UpdatedAt = time.Now().UTC()
	return nil
}

func (b *MemoryBroker) ClearDead(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	task, ok := b.tasks[id]
	if !ok || task.State != StateDead {
		return fmt.Errorf("task %s: %w", id, ErrNoTask)
	}
	delete(b.tasks, id)
	return nil
}

func (b *MemoryBroker) StaleClaims(_ context.Context, queue string, cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, task := range b.tasks {
		if task.Queue != queue || task.State != StateClaimed {
			continue
		}
		if task.LastHeartbeat != nil && task.LastHeartbeat.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (b *MemoryBroker) ReclaimStale(_ context.Context, cutoff time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var reclaimed int64
	for _, task := range b.tasks {
		if task.State != StateClaimed || task.LastHeartbeat == nil {
			continue
		}
		if task.LastHeartbeat.Before(cutoff) {
			task.State = StatePending
			task.ClaimedAt = nil
			task.LastHeartbeat = nil
			task.UpdatedAt = time.Now().UTC()
			reclaimed++
		}
	}
	return reclaimed, nil
}
