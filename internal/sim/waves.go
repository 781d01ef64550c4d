package sim

import (
	"log"

	"github.com/scythe504/horde-backend/internal"
)

// StartWave opens wave n. Waves advance strictly one at a time. Whether the
// current wave was cleared is left to the spawn collaborator.
func (d *Driver) StartWave(n int) error {
	return d.do(func() error {
		s := d.session
		if s.Status == internal.SessionFinished {
			return internal.NewStateError("session %s is finished", d.id)
		}
		if n != s.CurrentWave+1 {
			return internal.NewStateError("cannot start wave %d, current wave is %d", n, s.CurrentWave)
		}

		wave := internal.Wave{Number: n, StartTime: d.cfg.Clock()}
		s.WaveHistory = append(s.WaveHistory, wave)
		s.CurrentWave = n

		log.Printf("[Driver.StartWave] Session %s: wave %d started", d.id, n)
		d.publish(internal.EventSessionWave, internal.WaveData{
			SessionID:   d.id,
			CurrentWave: n,
			Wave:        wave,
			Started:     true,
		})
		return nil
	})
}

// ReportWaveProgress applies counter increments to the current wave. The
// report is applied whole or not at all.
func (d *Driver) ReportWaveProgress(p internal.WaveProgress) error {
	return d.do(func() error {
		s := d.session
		switch {
		case p.Wave < 1 || p.Wave > s.CurrentWave:
			return internal.NewNotFoundError("wave %d not found in session %s", p.Wave, d.id)
		case p.Wave < s.CurrentWave:
			return internal.NewStateError("wave %d is closed, current wave is %d", p.Wave, s.CurrentWave)
		}

		cur := s.CurrentWaveRecord()
		next, err := applyProgress(*cur, p)
		if err != nil {
			return err
		}
		if next.Completed && !cur.Completed {
			now := d.cfg.Clock()
			next.EndTime = &now
		}

		s.TotalZombiesKilled += next.ZombiesKilled - cur.ZombiesKilled
		*cur = next

		if next.Completed {
			log.Printf("[Driver.ReportWaveProgress] Session %s: wave %d cleared (%d/%d)",
				d.id, next.Number, next.ZombiesKilled, next.ZombiesSpawned)
		}
		d.publish(internal.EventSessionWave, internal.WaveData{
			SessionID:   d.id,
			CurrentWave: s.CurrentWave,
			Wave:        next,
		})
		return nil
	})
}

func applyProgress(w internal.Wave, p internal.WaveProgress) (internal.Wave, error) {
	spawned, killed := 0, 0
	if p.ZombiesSpawned != nil {
		spawned = *p.ZombiesSpawned
	}
	if p.ZombiesKilled != nil {
		killed = *p.ZombiesKilled
	}
	if spawned < 0 || killed < 0 {
		return w, internal.NewValidationError("wave counters only increase")
	}

	completing := p.Completed != nil && *p.Completed
	if w.Completed && (spawned > 0 || killed > 0) {
		return w, internal.NewStateError("wave %d is already completed", w.Number)
	}
	if w.SpawningStopped && spawned > 0 {
		return w, internal.NewStateError("spawning for wave %d has stopped", w.Number)
	}

	w.ZombiesSpawned += spawned
	w.ZombiesKilled += killed

	// Kill reports may run ahead of spawn reports while spawning is live.
	if p.SpawningStopped != nil && *p.SpawningStopped {
		w.SpawningStopped = true
	}
	if w.SpawningStopped && w.ZombiesKilled > w.ZombiesSpawned {
		return w, internal.NewValidationError("wave %d: %d killed exceeds %d spawned",
			w.Number, w.ZombiesKilled, w.ZombiesSpawned)
	}
	if p.Completed != nil && !*p.Completed && w.Completed {
		return w, internal.NewStateError("wave %d cannot be reopened", w.Number)
	}
	if completing && !w.Completed {
		w.SpawningStopped = true
		if w.ZombiesKilled != w.ZombiesSpawned {
			return w, internal.NewStateError("wave %d not clearable: %d of %d killed",
				w.Number, w.ZombiesKilled, w.ZombiesSpawned)
		}
		w.Completed = true
	}
	return w, nil
}
