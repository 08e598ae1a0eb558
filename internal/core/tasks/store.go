package tasks

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound reports that no task matched the given keyword or id.
var ErrNotFound = errors.New("tasks: no matching task")

// Subtask is a single step under a task.
type Subtask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// Task is one to-do item with optional subtasks.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
	Subtasks  []Subtask `json:"subtasks"`
}

// Store holds the task list in memory. It must tolerate concurrent tool
// calls arising from a single utterance ("add three tasks").
type Store struct {
	mu    sync.RWMutex
	tasks []*Task
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// List returns a snapshot of every task in creation order.
func (s *Store) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, copyTask(t))
	}
	return out
}

// Add appends a new top-level task.
func (s *Store) Add(title string) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, errors.New("tasks: title must not be empty")
	}
	t := &Task{
		ID:        "task_" + uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
	return copyTask(t), nil
}

// Find resolves a keyword to the best-matching task. Matching is fuzzy:
// exact title first, then substring, then highest token overlap.
func (s *Store) Find(keyword string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.findLocked(keyword)
	if t == nil {
		return Task{}, fmt.Errorf("%w for %q", ErrNotFound, keyword)
	}
	return copyTask(t), nil
}

// AddSub adds a subtask under the task matching the keyword.
func (s *Store) AddSub(keyword, title string) (Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Task{}, errors.New("tasks: subtask title must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(keyword)
	if t == nil {
		return Task{}, fmt.Errorf("%w for %q", ErrNotFound, keyword)
	}
	t.Subtasks = append(t.Subtasks, Subtask{
		ID:    "sub_" + uuid.NewString(),
		Title: title,
	})
	return copyTask(t), nil
}

// MarkDone marks the matching task done. If the keyword matches a subtask
// better than any task, the subtask is marked instead.
func (s *Store) MarkDone(keyword string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, sub := s.findSubtaskLocked(keyword); sub != nil {
		sub.Done = true
		return copyTask(t), nil
	}
	t := s.findLocked(keyword)
	if t == nil {
		return Task{}, fmt.Errorf("%w for %q", ErrNotFound, keyword)
	}
	t.Done = true
	return copyTask(t), nil
}

// Rename changes the title of the matching task.
func (s *Store) Rename(keyword, newTitle string) (Task, error) {
	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" {
		return Task{}, errors.New("tasks: new title must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(keyword)
	if t == nil {
		return Task{}, fmt.Errorf("%w for %q", ErrNotFound, keyword)
	}
	t.Title = newTitle
	return copyTask(t), nil
}

// Delete removes the matching task and returns its final state.
func (s *Store) Delete(keyword string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(keyword)
	if t == nil {
		return Task{}, fmt.Errorf("%w for %q", ErrNotFound, keyword)
	}
	for i, cur := range s.tasks {
		if cur == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			break
		}
	}
	return copyTask(t), nil
}

// ReplaceSubtasks swaps a task's subtasks for freshly generated ones.
func (s *Store) ReplaceSubtasks(id string, titles []string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.byIDLocked(id)
	if t == nil {
		return Task{}, fmt.Errorf("%w for id %q", ErrNotFound, id)
	}
	subs := make([]Subtask, 0, len(titles))
	for _, title := range titles {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		subs = append(subs, Subtask{ID: "sub_" + uuid.NewString(), Title: title})
	}
	t.Subtasks = subs
	return copyTask(t), nil
}

// SetDoneByID toggles a task's done state. Used by the REST surface.
func (s *Store) SetDoneByID(id string, done bool) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.byIDLocked(id)
	if t == nil {
		return Task{}, fmt.Errorf("%w for id %q", ErrNotFound, id)
	}
	t.Done = done
	return copyTask(t), nil
}

// DeleteByID removes a task by id. Used by the REST surface.
func (s *Store) DeleteByID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.tasks {
		if cur.ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w for id %q", ErrNotFound, id)
}

func (s *Store) byIDLocked(id string) *Task {
	for _, t := range s.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (s *Store) findLocked(keyword string) *Task {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil
	}
	for _, t := range s.tasks {
		if strings.ToLower(t.Title) == keyword {
			return t
		}
	}
	for _, t := range s.tasks {
		if strings.Contains(strings.ToLower(t.Title), keyword) {
			return t
		}
	}
	var best *Task
	bestScore := 0
	for _, t := range s.tasks {
		if score := tokenOverlap(keyword, t.Title); score > bestScore {
			best = t
			bestScore = score
		}
	}
	return best
}

// findSubtaskLocked returns a subtask only on an exact or substring title
// match, so task-level matches keep priority for ambiguous keywords.
func (s *Store) findSubtaskLocked(keyword string) (*Task, *Subtask) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil, nil
	}
	for _, t := range s.tasks {
		if strings.Contains(strings.ToLower(t.Title), keyword) {
			return nil, nil
		}
	}
	for _, t := range s.tasks {
		for i := range t.Subtasks {
			if strings.Contains(strings.ToLower(t.Subtasks[i].Title), keyword) {
				return t, &t.Subtasks[i]
			}
		}
	}
	return nil, nil
}

func tokenOverlap(keyword, title string) int {
	want := strings.Fields(keyword)
	have := strings.Fields(strings.ToLower(title))
	sort.Strings(have)
	score := 0
	for _, w := range want {
		for _, h := range have {
			if w == h {
				score++
				break
			}
		}
	}
	return score
}

func copyTask(t *Task) Task {
	out := *t
	out.Subtasks = append([]Subtask(nil), t.Subtasks...)
	return out
}
