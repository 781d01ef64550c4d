package internal

import "time"

func NewRoomPlayer(userID, displayName string, host bool, now time.Time) RoomPlayer {
	if displayName == "" {
		displayName = "Anonymous"
	}
	return RoomPlayer{
		UserID:      userID,
		DisplayName: displayName,
		Ready:       host,
		IsHost:      host,
		JoinedAt:    now,
	}
}

func NewSessionPlayer(userID, displayName string, now time.Time) SessionPlayer {
	return SessionPlayer{
		UserID:      userID,
		DisplayName: displayName,
		JoinTime:    now,
		IsActive:    true,
	}
}

// MarkInactive stamps the leave time; MarkActive clears it again on rejoin.
func (p *SessionPlayer) MarkInactive(now time.Time) {
	p.IsActive = false
	t := now
	p.LeaveTime = &t
}

func (p *SessionPlayer) MarkActive() {
	p.IsActive = true
	p.LeaveTime = nil
}

func (p *SessionPlayer) Apply(d StatDeltas) {
	p.Kills += d.Kills
	p.Deaths += d.Deaths
	p.Score += d.Score
}

func (s *Session) PlayerIndex(userID string) int {
	for i := range s.Players {
		if s.Players[i].UserID == userID {
			return i
		}
	}
	return -1
}

func (s *Session) GetPlayer(userID string) *SessionPlayer {
	if idx := s.PlayerIndex(userID); idx >= 0 {
		return &s.Players[idx]
	}
	return nil
}

func (s *Session) CurrentWaveRecord() *Wave {
	if len(s.WaveHistory) == 0 {
		return nil
	}
	return &s.WaveHistory[len(s.WaveHistory)-1]
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.WaveHistory = make([]Wave, len(s.WaveHistory))
	for i, w := range s.WaveHistory {
		if w.EndTime != nil {
			t := *w.EndTime
			w.EndTime = &t
		}
		c.WaveHistory[i] = w
	}
	c.Players = make([]SessionPlayer, len(s.Players))
	for i, p := range s.Players {
		if p.LeaveTime != nil {
			t := *p.LeaveTime
			p.LeaveTime = &t
		}
		c.Players[i] = p
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	return &c
}
