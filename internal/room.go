package internal

// Methods (Room Struct)

func (r *Room) PlayerIndex(userID string) int {
	for i := range r.Players {
		if r.Players[i].UserID == userID {
			return i
		}
	}
	return -1
}

func (r *Room) GetPlayer(userID string) *RoomPlayer {
	if idx := r.PlayerIndex(userID); idx >= 0 {
		return &r.Players[idx]
	}
	return nil
}

func (r *Room) HasPlayer(userID string) bool {
	return r.PlayerIndex(userID) >= 0
}

func (r *Room) IsHost(userID string) bool {
	p := r.GetPlayer(userID)
	return p != nil && p.IsHost
}

func (r *Room) GetPlayerCount() int {
	return len(r.Players)
}

func (r *Room) IsFull() bool {
	return r.GetPlayerCount() >= r.GameOptions.MaxPlayers
}

func (r *Room) HostCount() int {
	count := 0
	for _, p := range r.Players {
		if p.IsHost {
			count++
		}
	}
	return count
}

// AreAllPlayersReady ignores the host, who is always eligible to start.
func (r *Room) AreAllPlayersReady() bool {
	for _, player := range r.Players {
		if !player.IsHost && !player.Ready {
			return false
		}
	}
	return true
}

func (r *Room) CanStart(requesterID string) bool {
	return r.IsHost(requesterID) &&
		r.Status == RoomWaiting &&
		len(r.Players) >= MinPlayersToStart &&
		r.AreAllPlayersReady()
}

// RemovePlayer drops the player and, if they held the host role, promotes the
// longest-tenured remaining player. It returns the new host id when a
// migration happened.
func (r *Room) RemovePlayer(userID string) (removed bool, newHost string) {
	idx := r.PlayerIndex(userID)
	if idx < 0 {
		return false, ""
	}
	wasHost := r.Players[idx].IsHost
	r.Players = append(r.Players[:idx], r.Players[idx+1:]...)

	if wasHost && len(r.Players) > 0 {
		r.Players[0].IsHost = true
		r.Players[0].Ready = true
		r.HostID = r.Players[0].UserID
		return true, r.HostID
	}
	if len(r.Players) == 0 {
		r.HostID = ""
	}
	return true, ""
}

// ResetReadiness clears every non-host ready flag.
func (r *Room) ResetReadiness() {
	for i := range r.Players {
		if !r.Players[i].IsHost {
			r.Players[i].Ready = false
		}
	}
}

// Clone returns a deep copy safe to hand outside the room's lock.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.Players = append([]RoomPlayer(nil), r.Players...)
	c.PasswordHash = nil
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
