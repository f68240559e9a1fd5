package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/bayuaji732/data-prep-api/pkg/models"
	"github.com/pkg/errors"
)

type memoryData struct {
	mu       sync.RWMutex
	tasks    map[string]models.Task
	active   map[models.TaskKey]string // key -> id of the pending/running task
	events   []models.TaskEvent
	nextID   int64 // For event IDs
	lastTime time.Time
}

// memoryStore implements storage.Store in process memory. Transactions
// share the underlying maps; each call is atomic on its own.
type memoryStore struct {
	data      *memoryData
	tx        bool
	committed bool // Transaction state
}

func NewMemoryStore() Store {
	return &memoryStore{data: &memoryData{
		tasks:  make(map[string]models.Task),
		active: make(map[models.TaskKey]string),
	}}
}

func (m *memoryStore) Begin() (Store, error) {
	return &memoryStore{data: m.data, tx: true}, nil
}

func (m *memoryStore) Commit() error {
	if m.committed {
		return errors.New("already committed")
	}
	m.committed = true
	return nil
}

func (m *memoryStore) Rollback() error {
	if m.committed {
		return errors.New("cannot rollback committed transaction")
	}
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) checkOpen() error {
	if m.committed {
		return errors.New("transaction already committed")
	}
	return nil
}

// now returns a strictly increasing timestamp so listings order stably.
func (d *memoryData) now() time.Time {
	t := time.Now().UTC()
	if !t.After(d.lastTime) {
		t = d.lastTime.Add(time.Nanosecond)
	}
	d.lastTime = t
	return t
}

func (m *memoryStore) CreateOrGetTask(t models.Task) (models.Task, bool, error) {
	if err := m.checkOpen(); err != nil {
		return models.Task{}, false, err
	}
	d := m.data
	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.active[t.Key()]; ok {
		return d.tasks[id], false, nil
	}
	if _, exists := d.tasks[t.ID]; exists {
		return models.Task{}, false, errors.Errorf("task %s already exists", t.ID)
	}
	now := d.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.Payload = append([]byte(nil), t.Payload...)
	d.tasks[t.ID] = t
	if t.Status.Active() {
		d.active[t.Key()] = t.ID
	}
	return t, true, nil
}

func (m *memoryStore) GetTask(id string) (models.Task, error) {
	d := m.data
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *memoryStore) GetLatestTask(targetID string, kind models.TaskKind) (models.Task, error) {
	d := m.data
	d.mu.RLock()
	defer d.mu.RUnlock()
	var (
		latest models.Task
		found  bool
	)
	for _, t := range d.tasks {
		if t.TargetID != targetID || (kind != "" && t.Kind != kind) {
			continue
		}
		if !found || t.CreatedAt.After(latest.CreatedAt) {
			latest, found = t, true
		}
	}
	if !found {
		return models.Task{}, ErrNotFound
	}
	return latest, nil
}

func (m *memoryStore) CompareAndSetStatus(id string, from, to models.TaskStatus, message string) (models.Task, error) {
	if err := m.checkOpen(); err != nil {
		return models.Task{}, err
	}
	d := m.data
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[id]
	if !ok {
		return models.Task{}, ErrNotFound
	}
	if t.Status != from {
		return t, ErrStatusConflict
	}
	t.Status = to
	t.Message = message
	t.UpdatedAt = d.now()
	d.tasks[id] = t
	if !to.Active() && d.active[t.Key()] == id {
		delete(d.active, t.Key())
	}
	return t, nil
}

func (m *memoryStore) ListTasks(filter models.TaskFilter) ([]models.Task, int, error) {
	filter = filter.Normalize()
	d := m.data
	d.mu.RLock()
	matched := make([]models.Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		if filter.Match(t) {
			matched = append(matched, t)
		}
	}
	d.mu.RUnlock()

	sortTasks(matched)
	total := len(matched)
	if filter.Offset >= total {
		return []models.Task{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (m *memoryStore) ListActiveTasks() ([]models.Task, error) {
	d := m.data
	d.mu.RLock()
	active := make([]models.Task, 0, len(d.active))
	for _, id := range d.active {
		active = append(active, d.tasks[id])
	}
	d.mu.RUnlock()
	sortTasks(active)
	return active, nil
}

// sortTasks orders newest first, ties broken by id.
func sortTasks(tasks []models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func (m *memoryStore) SaveEvent(e models.TaskEvent) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	d := m.data
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tasks[e.TaskID]; !ok {
		return ErrNotFound
	}
	d.nextID++
	e.ID = d.nextID
	if e.LoggedAt.IsZero() {
		e.LoggedAt = time.Now().UTC()
	}
	d.events = append(d.events, e)
	return nil
}

func (m *memoryStore) ListEvents(taskID string) ([]models.TaskEvent, error) {
	d := m.data
	d.mu.RLock()
	defer d.mu.RUnlock()
	var events []models.TaskEvent
	for _, e := range d.events {
		if e.TaskID == taskID {
			events = append(events, e)
		}
	}
	return events, nil
}
