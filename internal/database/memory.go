package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/scythe504/horde-backend/internal"
)

// MemoryRepository keeps sessions in process. It backs tests and runs
// without DATABASE_URL.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*internal.Session
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]*internal.Session)}
}

func (m *MemoryRepository) CreateSession(_ context.Context, session *internal.Session) error {
	if session == nil || session.ID == "" {
		return internal.NewValidationError("session id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *MemoryRepository) GetSession(_ context.Context, sessionID string) (*internal.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, internal.NewNotFoundError("session %s not found", sessionID)
	}
	return s.Clone(), nil
}

func (m *MemoryRepository) FindActiveSessionForMap(_ context.Context, mapID string) (*internal.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *internal.Session
	for _, s := range m.sessions {
		if s.MapID != mapID || !(s.Status == internal.SessionWaiting || s.Status == internal.SessionActive) {
			continue
		}
		if found == nil || s.StartTime.After(found.StartTime) {
			found = s
		}
	}
	if found == nil {
		return nil, internal.NewNotFoundError("no active session for map %s", mapID)
	}
	return found.Clone(), nil
}

// update runs fn on the stored session under the write lock.
func (m *MemoryRepository) update(sessionID string, fn func(*internal.Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return internal.NewNotFoundError("session %s not found", sessionID)
	}
	return fn(s)
}

func (m *MemoryRepository) AddPlayerToSession(_ context.Context, sessionID string, player internal.SessionPlayer) error {
	return m.update(sessionID, func(s *internal.Session) error {
		if p := s.GetPlayer(player.UserID); p != nil {
			p.DisplayName = player.DisplayName
			p.MarkActive()
			return nil
		}
		player.IsActive = true
		player.LeaveTime = nil
		s.Players = append(s.Players, player)
		return nil
	})
}

func (m *MemoryRepository) RemovePlayerFromSession(_ context.Context, sessionID, userID string, at time.Time) error {
	return m.update(sessionID, func(s *internal.Session) error {
		p := s.GetPlayer(userID)
		if p == nil {
			return internal.NewNotFoundError("player %s not in session %s", userID, sessionID)
		}
		p.MarkInactive(at)
		return nil
	})
}

func (m *MemoryRepository) UpdatePlayerStats(_ context.Context, sessionID string, player internal.SessionPlayer) error {
	return m.update(sessionID, func(s *internal.Session) error {
		p := s.GetPlayer(player.UserID)
		if p == nil {
			return internal.NewNotFoundError("player %s not in session %s", player.UserID, sessionID)
		}
		p.Kills, p.Deaths, p.Score = player.Kills, player.Deaths, player.Score
		return nil
	})
}

func (m *MemoryRepository) UpdateSessionStatus(_ context.Context, sessionID string, status internal.SessionStatus, at time.Time) error {
	return m.update(sessionID, func(s *internal.Session) error {
		s.Status = status
		if status == internal.SessionFinished && s.EndTime == nil {
			end := at
			s.EndTime = &end
		}
		return nil
	})
}

func (m *MemoryRepository) StartNewWave(_ context.Context, sessionID string, wave internal.Wave) error {
	return m.update(sessionID, func(s *internal.Session) error {
		for i := range s.WaveHistory {
			if s.WaveHistory[i].Number == wave.Number {
				s.WaveHistory[i] = wave
				s.CurrentWave = max(s.CurrentWave, wave.Number)
				return nil
			}
		}
		s.WaveHistory = append(s.WaveHistory, wave)
		sort.Slice(s.WaveHistory, func(i, j int) bool { return s.WaveHistory[i].Number < s.WaveHistory[j].Number })
		s.CurrentWave = max(s.CurrentWave, wave.Number)
		return nil
	})
}

func (m *MemoryRepository) UpdateWaveProgress(_ context.Context, sessionID string, wave internal.Wave) error {
	return m.update(sessionID, func(s *internal.Session) error {
		idx := -1
		for i := range s.WaveHistory {
			if s.WaveHistory[i].Number == wave.Number {
				idx = i
			}
		}
		if idx < 0 {
			return internal.NewNotFoundError("wave %d not in session %s", wave.Number, sessionID)
		}
		s.WaveHistory[idx] = wave
		total := 0
		for _, w := range s.WaveHistory {
			total += w.ZombiesKilled
		}
		s.TotalZombiesKilled = total
		return nil
	})
}

func (m *MemoryRepository) MarkStaleSessions(_ context.Context, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if !s.Status.Live() {
			continue
		}
		s.Status = internal.SessionFinished
		end := at
		s.EndTime = &end
		n++
	}
	return n, nil
}

func (m *MemoryRepository) Close() {}
