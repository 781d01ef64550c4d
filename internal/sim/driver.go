// Package sim runs the authoritative world of one game session.
//
// A Driver is a single-writer actor: one goroutine owns the World and the
// Session record, and every command is a closure executed on that goroutine
// between ticks. Stepping uses a fixed timestep fed by an accumulator, so
// scheduler jitter changes how many steps run per wake-up but never the
// length of a step.
package sim

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scythe504/horde-backend/internal"
	"github.com/scythe504/horde-backend/internal/events"
	"github.com/scythe504/horde-backend/internal/maps"
)

const (
	DefaultTickRate        = 60
	DefaultBroadcastEvery  = 3
	DefaultMaxCatchUpSteps = 5
	mailboxSize            = 64
)

type Config struct {
	TickRate        int
	BroadcastEvery  int
	MaxCatchUpSteps int
	Clock           func() time.Time
}

func DefaultConfig() Config {
	return Config{
		TickRate:        DefaultTickRate,
		BroadcastEvery:  DefaultBroadcastEvery,
		MaxCatchUpSteps: DefaultMaxCatchUpSteps,
		Clock:           time.Now,
	}
}

func (c Config) sanitize() Config {
	d := DefaultConfig()
	if c.TickRate <= 0 {
		c.TickRate = d.TickRate
	}
	if c.BroadcastEvery <= 0 {
		c.BroadcastEvery = d.BroadcastEvery
	}
	if c.MaxCatchUpSteps <= 0 {
		c.MaxCatchUpSteps = d.MaxCatchUpSteps
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	return c
}

func (c Config) Step() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

type driverState int32

const (
	stateNew driverState = iota
	stateRunning
	stateStopped
)

type Driver struct {
	cfg     Config
	bus     events.Publisher
	roomID  string
	id      string
	mapData *maps.Map

	// owned by the actor goroutine once Init returns
	session *internal.Session
	world   *World
	ticking bool
	acc     time.Duration
	last    time.Time

	state    atomic.Int32
	mailbox  chan func()
	quit     chan struct{}
	done     chan struct{}
	initMu   sync.Mutex
	stopOnce sync.Once
}

// NewSession builds the session record for a freshly started room. Wave 1 is
// opened immediately so currentWave always equals len(waveHistory).
func NewSession(id, roomID string, m *maps.Map, mode internal.GameMode, now time.Time) *internal.Session {
	return &internal.Session{
		ID:          id,
		RoomID:      roomID,
		MapID:       m.ID,
		MapName:     m.Name,
		GameMode:    mode,
		CurrentWave: 1,
		Status:      internal.SessionWaiting,
		WaveHistory: []internal.Wave{{Number: 1, StartTime: now}},
		Players:     make([]internal.SessionPlayer, 0),
		StartTime:   now,
	}
}

func NewDriver(session *internal.Session, bus events.Publisher, cfg Config) *Driver {
	return &Driver{
		cfg:     cfg.sanitize(),
		bus:     bus,
		roomID:  session.RoomID,
		id:      session.ID,
		session: session,
		mailbox: make(chan func(), mailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (d *Driver) SessionID() string { return d.id }
func (d *Driver) RoomID() string    { return d.roomID }

// Init builds the world from map data and starts the actor goroutine. The
// loop does not step until Start is called.
func (d *Driver) Init(m *maps.Map) error {
	d.initMu.Lock()
	defer d.initMu.Unlock()

	if driverState(d.state.Load()) != stateNew {
		return internal.NewStateError("session %s already initialised", d.id)
	}
	world, err := NewWorld(m)
	if err != nil {
		return internal.NewResourceError(err, "init world for session %s", d.id)
	}
	d.world = world
	d.mapData = m
	d.state.Store(int32(stateRunning))
	go d.run()

	log.Printf("[Driver.Init] Session %s: world ready (map=%s gravity=%.2f spawns=%d tick=%dHz)",
		d.id, m.ID, m.GravityY(), len(m.SpawnPoints), d.cfg.TickRate)
	return nil
}

func (d *Driver) run() {
	defer close(d.done)
	ticker := time.NewTicker(d.cfg.Step())
	defer ticker.Stop()

	for {
		select {
		case <-d.quit:
			d.release()
			return
		case fn := <-d.mailbox:
			fn()
		case <-ticker.C:
			d.onTick(d.cfg.Clock())
		}
	}
}

func (d *Driver) release() {
	if d.world != nil {
		d.world.Free()
		d.world = nil
	}
	d.ticking = false
	log.Printf("[Driver.release] Session %s: world released", d.id)
}

// Stop halts the loop and frees the world. It returns once the actor
// goroutine has exited and is safe to call more than once.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		d.initMu.Lock()
		prev := driverState(d.state.Swap(int32(stateStopped)))
		d.initMu.Unlock()

		if prev == stateRunning {
			close(d.quit)
			<-d.done
		}
		log.Printf("[Driver.Stop] Session %s: stopped", d.id)
	})
}

// Stopped reports whether Stop has been called.
func (d *Driver) Stopped() bool {
	return driverState(d.state.Load()) == stateStopped
}

// do runs fn on the actor goroutine and waits for its result.
func (d *Driver) do(fn func() error) error {
	switch driverState(d.state.Load()) {
	case stateNew:
		return internal.NewResourceError(nil, "session %s world is not initialised", d.id)
	case stateStopped:
		return internal.NewStateError("session %s is stopped", d.id)
	}

	reply := make(chan error, 1)
	task := func() { reply <- fn() }

	select {
	case d.mailbox <- task:
	case <-d.done:
		return internal.NewStateError("session %s is stopped", d.id)
	}
	select {
	case err := <-reply:
		return err
	case <-d.done:
		return internal.NewStateError("session %s is stopped", d.id)
	}
}

func (d *Driver) publish(eventType string, payload any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(events.Event{Type: eventType, RoomID: d.roomID, SessionID: d.id, Payload: payload})
}

func (d *Driver) onTick(now time.Time) {
	if !d.ticking {
		d.last = now
		return
	}
	elapsed := now.Sub(d.last)
	d.last = now
	d.advance(elapsed)
}

// advance feeds elapsed wall time into the accumulator and runs whole fixed
// steps. Backlog beyond MaxCatchUpSteps is discarded.
func (d *Driver) advance(elapsed time.Duration) int {
	if elapsed < 0 {
		elapsed = 0
	}
	step := d.cfg.Step()
	dt := step.Seconds()
	d.acc += elapsed

	steps := 0
	for d.acc >= step && steps < d.cfg.MaxCatchUpSteps {
		d.world.Step(dt)
		d.session.Tick++
		d.acc -= step
		steps++
		if d.session.Tick%uint64(d.cfg.BroadcastEvery) == 0 {
			d.publishTick()
		}
	}
	if d.acc >= step {
		d.acc %= step
	}
	return steps
}

func (d *Driver) publishTick() {
	d.publish(internal.EventSessionTick, internal.TickData{
		SessionID: d.id,
		Tick:      d.session.Tick,
		Players:   d.world.Bodies(),
	})
}

func (d *Driver) publishStatus() {
	d.publish(internal.EventSessionStatus, internal.SessionStatusData{SessionID: d.id, Status: d.session.Status})
}

// Start begins stepping.
func (d *Driver) Start() error {
	return d.do(func() error {
		switch d.session.Status {
		case internal.SessionActive:
			return nil
		case internal.SessionFinished:
			return internal.NewStateError("session %s is finished", d.id)
		}
		d.session.Status = internal.SessionActive
		d.ticking = true
		d.acc = 0
		d.last = d.cfg.Clock()
		d.publishStatus()
		log.Printf("[Driver.Start] Session %s: loop started", d.id)
		return nil
	})
}

func (d *Driver) Pause() error {
	return d.do(func() error {
		if d.session.Status != internal.SessionActive {
			return internal.NewStateError("session %s is %s, not active", d.id, d.session.Status)
		}
		d.session.Status = internal.SessionPaused
		d.ticking = false
		d.publishStatus()
		return nil
	})
}

func (d *Driver) Resume() error {
	return d.do(func() error {
		if d.session.Status != internal.SessionPaused {
			return internal.NewStateError("session %s is %s, not paused", d.id, d.session.Status)
		}
		d.session.Status = internal.SessionActive
		d.ticking = true
		d.acc = 0
		d.last = d.cfg.Clock()
		d.publishStatus()
		return nil
	})
}

// Finish marks the session finished and returns its final snapshot. The loop
// keeps its world until Stop.
func (d *Driver) Finish() (*internal.Session, error) {
	var snap *internal.Session
	err := d.do(func() error {
		if d.session.Status != internal.SessionFinished {
			now := d.cfg.Clock()
			d.session.Status = internal.SessionFinished
			d.session.EndTime = &now
			d.ticking = false
			d.publishStatus()
		}
		snap = d.snapshot()
		return nil
	})
	return snap, err
}

// AddPlayer creates the player's body and session entry. Adding a player who
// already exists reactivates them instead of duplicating the entry.
func (d *Driver) AddPlayer(userID, displayName string, spawn *internal.Vec3) error {
	return d.do(func() error {
		if d.world == nil {
			return internal.NewResourceError(nil, "session %s world is not initialised", d.id)
		}
		pos := d.world.AddPlayer(userID, spawn)

		p := d.session.GetPlayer(userID)
		if p == nil {
			d.session.Players = append(d.session.Players, internal.NewSessionPlayer(userID, displayName, d.cfg.Clock()))
			p = &d.session.Players[len(d.session.Players)-1]
		} else {
			p.MarkActive()
		}
		p.Position = pos
		d.publish(internal.EventPlayerJoinedSession, internal.SessionPlayerData{SessionID: d.id, Player: *p})
		return nil
	})
}

// RemovePlayer frees the player's body. Unknown players are ignored.
func (d *Driver) RemovePlayer(userID string) error {
	return d.do(func() error {
		if d.world != nil {
			d.world.RemovePlayer(userID)
		}
		if p := d.session.GetPlayer(userID); p != nil && p.IsActive {
			p.MarkInactive(d.cfg.Clock())
			d.publish(internal.EventPlayerLeftSession, internal.SessionPlayerData{SessionID: d.id, Player: *p})
		}
		return nil
	})
}

// SetPlayerActive toggles presence without touching the body, used while a
// disconnected player is inside the reconnect grace period.
func (d *Driver) SetPlayerActive(userID string, active bool) error {
	return d.do(func() error {
		p := d.session.GetPlayer(userID)
		if p == nil {
			return internal.NewNotFoundError("player %s not in session %s", userID, d.id)
		}
		if p.IsActive == active {
			return nil
		}
		if active {
			p.MarkActive()
			d.publish(internal.EventPlayerJoinedSession, internal.SessionPlayerData{SessionID: d.id, Player: *p})
		} else {
			p.MarkInactive(d.cfg.Clock())
			d.publish(internal.EventPlayerLeftSession, internal.SessionPlayerData{SessionID: d.id, Player: *p})
		}
		return nil
	})
}

// MovePlayer drops commands for unknown players; they race disconnects.
func (d *Driver) MovePlayer(userID string, dir internal.Direction) error {
	return d.do(func() error {
		if d.world != nil {
			d.world.SetMoveForce(userID, dir)
		}
		return nil
	})
}

func (d *Driver) RecordStats(userID string, deltas internal.StatDeltas) error {
	return d.do(func() error {
		p := d.session.GetPlayer(userID)
		if p == nil {
			return internal.NewNotFoundError("player %s not in session %s", userID, d.id)
		}
		p.Apply(deltas)
		delta := deltas
		d.publish(internal.EventSessionStats, internal.SessionPlayerData{SessionID: d.id, Player: *p, Deltas: &delta})
		return nil
	})
}

// Spawns returns the zombie and item spawn points of the loaded map.
func (d *Driver) Spawns() (zombies, items []internal.SpawnPoint, err error) {
	err = d.do(func() error {
		if d.world == nil {
			return internal.NewResourceError(nil, "session %s has no world", d.id)
		}
		zombies, items = d.world.ZombieSpawns(), d.world.ItemSpawns()
		return nil
	})
	return zombies, items, err
}

func (d *Driver) Snapshot() (*internal.Session, error) {
	var snap *internal.Session
	err := d.do(func() error {
		snap = d.snapshot()
		return nil
	})
	return snap, err
}

func (d *Driver) snapshot() *internal.Session {
	if d.world != nil {
		for i := range d.session.Players {
			if pos, ok := d.world.Position(d.session.Players[i].UserID); ok {
				d.session.Players[i].Position = pos
			}
		}
	}
	return d.session.Clone()
}

func (d *Driver) Tick() (uint64, error) {
	var tick uint64
	err := d.do(func() error {
		tick = d.session.Tick
		return nil
	})
	return tick, err
}
