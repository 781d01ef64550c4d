package database

import (
	"context"
	"log"
	"time"

	"github.com/scythe504/horde-backend/internal"
	"github.com/scythe504/horde-backend/internal/events"
)

const writeTimeout = 5 * time.Second

// Recorder applies session events to a Repository on its own goroutine.
// Events for sessions it has not seen created are skipped: the snapshot in
// room:started already carries them.
type Recorder struct {
	repo  Repository
	clock func() time.Time
	known map[string]struct{}
}

func NewRecorder(repo Repository, clock func() time.Time) *Recorder {
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{repo: repo, clock: clock, known: make(map[string]struct{})}
}

// Run consumes sub until ctx is done or the subscription closes.
func (r *Recorder) Run(ctx context.Context, sub *events.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := r.Apply(ctx, evt); err != nil {
				log.Printf("[Recorder.Run] Session %s: %s write failed: %v", evt.SessionID, evt.Type, err)
			}
		}
	}
}

// Apply performs the write for one event. Unrelated events are ignored.
func (r *Recorder) Apply(ctx context.Context, evt events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if evt.Type == internal.EventRoomStarted {
		data, ok := evt.Payload.(internal.RoomStartedData)
		if !ok || data.Session == nil {
			return nil
		}
		if err := r.repo.CreateSession(ctx, data.Session); err != nil {
			return err
		}
		r.known[data.Session.ID] = struct{}{}
		return nil
	}

	if evt.Type == internal.EventRoomFinished {
		data, ok := evt.Payload.(internal.RoomFinishedData)
		if !ok || data.Session == nil {
			return nil
		}
		delete(r.known, data.Session.ID)
		// The final snapshot also covers events this subscriber dropped
		// while the session ran.
		final := data.Session.Clone()
		final.Status = internal.SessionFinished
		if final.EndTime == nil {
			end := r.clock()
			final.EndTime = &end
		}
		return r.repo.CreateSession(ctx, final)
	}

	if _, ok := r.known[evt.SessionID]; !ok {
		return nil
	}

	switch data := evt.Payload.(type) {
	case internal.SessionPlayerData:
		switch evt.Type {
		case internal.EventPlayerJoinedSession:
			return r.repo.AddPlayerToSession(ctx, data.SessionID, data.Player)
		case internal.EventPlayerLeftSession:
			at := r.clock()
			if data.Player.LeaveTime != nil {
				at = *data.Player.LeaveTime
			}
			return r.repo.RemovePlayerFromSession(ctx, data.SessionID, data.Player.UserID, at)
		case internal.EventSessionStats:
			return r.repo.UpdatePlayerStats(ctx, data.SessionID, data.Player)
		}
	case internal.WaveData:
		if data.Started {
			return r.repo.StartNewWave(ctx, data.SessionID, data.Wave)
		}
		return r.repo.UpdateWaveProgress(ctx, data.SessionID, data.Wave)
	case internal.SessionStatusData:
		return r.repo.UpdateSessionStatus(ctx, data.SessionID, data.Status, r.clock())
	}
	return nil
}
