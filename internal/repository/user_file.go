package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/digkill/faceswapbot/internal/models"
)

// FileUserStore keeps all users in one JSON file. Every write goes to a temp
// file in the same directory and is renamed over the old one, so a failed
// write leaves the previous file intact.
type FileUserStore struct {
	path string

	mu     sync.Mutex
	users  map[int64]*models.User
	nextID int64
}

func NewFileUserStore(path string) (*FileUserStore, error) {
	s := &FileUserStore{
		path:  path,
		users: make(map[int64]*models.User),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.users); err != nil {
			return nil, fmt.Errorf("decode users file: %w", err)
		}
	}
	for _, u := range s.users {
		if u.ID > s.nextID {
			s.nextID = u.ID
		}
	}
	return s, nil
}

func (s *FileUserStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *FileUserStore) Get(ctx context.Context, telegramID int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[telegramID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *FileUserStore) Ensure(ctx context.Context, profile models.Profile, now time.Time) (*models.User, bool, error) {
	user, err := s.Update(ctx, profile.TelegramID, func(u *models.User) error {
		applyProfile(u, profile, now)
		return nil
	})
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[profile.TelegramID]; ok {
		return existing.Clone(), false, nil
	}
	created := newUser(profile, s.nextID+1, now)
	s.users[profile.TelegramID] = created
	if err := s.persistLocked(); err != nil {
		delete(s.users, profile.TelegramID)
		return nil, false, err
	}
	s.nextID++
	return created.Clone(), true, nil
}

func (s *FileUserStore) Update(ctx context.Context, telegramID int64, fn func(u *models.User) error) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[telegramID]
	if !ok {
		return nil, ErrUserNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}
	next.Version = current.Version + 1

	s.users[telegramID] = next
	if err := s.persistLocked(); err != nil {
		s.users[telegramID] = current
		return nil, err
	}
	return next.Clone(), nil
}

func (s *FileUserStore) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *FileUserStore) persistLocked() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create users dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".users-*.json")
	if err != nil {
		return fmt.Errorf("create temp users file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp users file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp users file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp users file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace users file: %w", err)
	}
	return nil
}
