package game

import (
	"log"

	"github.com/scythe504/horde-backend/internal"
	"github.com/scythe504/horde-backend/internal/sim"
)

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// Finish ends the room's running session and publishes the final results
func (l *Lobby) Finish(roomID, requesterID string) (*internal.FinalResults, error) {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if !e.room.IsHost(requesterID) {
		return nil, internal.NewPermissionError("only the host can finish room %s", roomID)
	}
	if e.room.Status != internal.RoomInProgress {
		return nil, internal.NewStateError("room %s is %s, not in progress", roomID, e.room.Status)
	}
	return l.finishLocked(e, "finished by host"), nil
}

// expireSession runs when the time limit elapses. A stale timer for an
// earlier session is ignored.
func (l *Lobby) expireSession(roomID, sessionID string) {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return
	}
	defer e.mu.Unlock()
	if e.room.Status != internal.RoomInProgress || e.room.SessionID != sessionID {
		return
	}
	l.finishLocked(e, "time limit reached")
}

// finishLocked stops the driver, frees its world and unregisters the session
// before the room becomes finished.
func (l *Lobby) finishLocked(e *roomEntry, reason string) *internal.FinalResults {
	room := e.room
	if e.timeLimit != nil {
		e.timeLimit.Cancel()
		e.timeLimit = nil
	}

	var final *internal.Session
	if d := e.driver; d != nil {
		snap, err := d.Finish()
		if err != nil {
			log.Printf("[Lobby.finish] Room %s: final snapshot failed: %v", room.ID, err)
		}
		final = snap
		d.Stop()
		l.registry.Unregister(d.SessionID())
		e.driver = nil
	}

	now := l.clock()
	room.Status = internal.RoomFinished
	room.FinishedAt = &now
	l.touch(room)

	results := CalculateFinalResults(final)
	log.Printf("[Lobby.finish] Room %s: session %s finished (%s). Waves cleared: %d",
		room.ID, room.SessionID, reason, results.WavesCleared)

	snapshot := room.Clone()
	l.publish(internal.EventRoomFinished, snapshot, internal.RoomFinishedData{Room: snapshot, Session: final, Results: results})
	return results
}

// Disband removes the room. A waiting room is cancelled; a running session
// is finished first.
func (l *Lobby) Disband(roomID, requesterID string) error {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if !e.room.IsHost(requesterID) {
		return internal.NewPermissionError("only the host can disband room %s", roomID)
	}
	l.disbandLocked(e, "disbanded by host")
	return nil
}

func (l *Lobby) disbandLocked(e *roomEntry, reason string) {
	room := e.room
	switch room.Status {
	case internal.RoomWaiting:
		room.Status = internal.RoomCancelled
		l.touch(room)
	case internal.RoomInProgress:
		l.finishLocked(e, reason)
	}
	l.removeLocked(e)

	log.Printf("[Lobby.disband] Room %s disbanded (%s)", room.ID, reason)
	l.publish(internal.EventRoomDisbanded, room, internal.DisbandedData{RoomID: room.ID})
}

// Shutdown finishes every running session. Used on process exit.
func (l *Lobby) Shutdown() {
	for _, e := range l.snapshotEntries() {
		e.mu.Lock()
		if !e.removed && e.room.Status == internal.RoomInProgress {
			l.finishLocked(e, "server shutdown")
		}
		e.mu.Unlock()
	}
	log.Printf("[Lobby.Shutdown] All sessions stopped")
}

// =============================================================================
// SESSION ROUTING
// =============================================================================

// sessionDriver returns the running driver. With hostOnly the requester must
// hold the host role.
func (l *Lobby) sessionDriver(roomID, requesterID string, hostOnly bool) (*sim.Driver, error) {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	if hostOnly && !e.room.IsHost(requesterID) {
		return nil, internal.NewPermissionError("only the host can control the session of room %s", roomID)
	}
	if e.driver == nil {
		return nil, internal.NewStateError("room %s has no running session", roomID)
	}
	return e.driver, nil
}

// SessionSnapshot returns the full session state for resync.
func (l *Lobby) SessionSnapshot(roomID string) (*internal.Session, error) {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return nil, err
	}
	d := e.driver
	e.mu.Unlock()

	if d == nil {
		return nil, internal.NewNotFoundError("room %s has no running session", roomID)
	}
	return d.Snapshot()
}

// MarkPresence flips the session player's active flag for connection churn.
// Rooms without a running session have nothing to mark.
func (l *Lobby) MarkPresence(roomID, userID string, active bool) error {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return err
	}
	d := e.driver
	member := e.room.HasPlayer(userID)
	e.mu.Unlock()

	if d == nil || !member {
		return nil
	}
	return d.SetPlayerActive(userID, active)
}

// MovePlayer forwards movement intent. Commands for rooms without a session
// are dropped, as they race the session ending.
func (l *Lobby) MovePlayer(roomID, userID string, dir internal.Direction) error {
	e, err := l.lockRoom(roomID)
	if err != nil {
		return err
	}
	d := e.driver
	e.mu.Unlock()

	if d == nil {
		return nil
	}
	return d.MovePlayer(userID, dir)
}

func (l *Lobby) StartWave(roomID, requesterID string, wave int) error {
	d, err := l.sessionDriver(roomID, requesterID, true)
	if err != nil {
		return err
	}
	return d.StartWave(wave)
}

func (l *Lobby) ReportWaveProgress(roomID, requesterID string, p internal.WaveProgress) error {
	d, err := l.sessionDriver(roomID, requesterID, true)
	if err != nil {
		return err
	}
	return d.ReportWaveProgress(p)
}

func (l *Lobby) RecordStats(roomID, requesterID, playerID string, deltas internal.StatDeltas) error {
	d, err := l.sessionDriver(roomID, requesterID, true)
	if err != nil {
		return err
	}
	return d.RecordStats(playerID, deltas)
}

func (l *Lobby) SetPaused(roomID, requesterID string, paused bool) error {
	d, err := l.sessionDriver(roomID, requesterID, true)
	if err != nil {
		return err
	}
	if paused {
		err = d.Pause()
	} else {
		err = d.Resume()
	}
	if err != nil {
		return err
	}

	status := internal.SessionActive
	if paused {
		status = internal.SessionPaused
	}
	l.registry.UpdateStatus(d.SessionID(), status)
	return nil
}
