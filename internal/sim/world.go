package sim

import (
	"slices"
	"strings"

	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/filter"

	"github.com/scythe504/horde-backend/internal"
	"github.com/scythe504/horde-backend/internal/maps"
)

const (
	PlayerMass          = 1.0
	PlayerLinearDamping = 4.0
	CapsuleRadius       = 0.3
	CapsuleHalfHeight   = 0.5
	MoveForce           = 5.0
)

type Body struct {
	Position      internal.Vec3
	Velocity      internal.Vec3
	Force         internal.Vec3
	Mass          float64
	LinearDamping float64
}

type Capsule struct {
	Radius     float64
	HalfHeight float64
}

type PlayerTag struct {
	UserID string
}

var (
	bodyComponent    = donburi.NewComponentType[Body]()
	capsuleComponent = donburi.NewComponentType[Capsule]()
	playerComponent  = donburi.NewComponentType[PlayerTag]()

	bodyQuery = donburi.NewQuery(filter.Contains(bodyComponent, capsuleComponent))
)

// World is the physics state of one session. It is not safe for concurrent
// use; the owning Driver's goroutine is its only caller.
type World struct {
	ecs          donburi.World
	gravity      internal.Vec3
	floorY       float64
	bounds       internal.Bounds
	playerSpawns []internal.SpawnPoint
	zombieSpawns []internal.SpawnPoint
	itemSpawns   []internal.SpawnPoint
	bodies       map[string]donburi.Entity
	nextSpawn    int
}

func NewWorld(m *maps.Map) (*World, error) {
	if m == nil {
		return nil, internal.NewResourceError(nil, "cannot build world without a map")
	}
	return &World{
		ecs:          donburi.NewWorld(),
		gravity:      internal.Vec3{Y: m.GravityY()},
		floorY:       m.FloorY,
		bounds:       m.Bounds,
		playerSpawns: m.SpawnPointsOf(internal.SpawnPlayer),
		zombieSpawns: m.SpawnPointsOf(internal.SpawnZombie),
		itemSpawns:   m.SpawnPointsOf(internal.SpawnItem),
		bodies:       make(map[string]donburi.Entity),
	}, nil
}

func (w *World) restHeight() float64 {
	return w.floorY + CapsuleRadius + CapsuleHalfHeight
}

// nextPlayerSpawn cycles through the map's player spawns in declaration order.
func (w *World) nextPlayerSpawn() internal.Vec3 {
	if len(w.playerSpawns) == 0 {
		return internal.Vec3{Y: w.restHeight()}
	}
	sp := w.playerSpawns[w.nextSpawn%len(w.playerSpawns)]
	w.nextSpawn++
	return sp.Position
}

// AddPlayer creates a dynamic capsule body. An existing body for the same user
// is kept and its position returned.
func (w *World) AddPlayer(userID string, spawn *internal.Vec3) internal.Vec3 {
	if entity, ok := w.bodies[userID]; ok && w.ecs.Valid(entity) {
		return bodyComponent.Get(w.ecs.Entry(entity)).Position
	}

	pos := w.nextPlayerSpawn()
	if spawn != nil {
		pos = *spawn
	}

	entity := w.ecs.Create(bodyComponent, capsuleComponent, playerComponent)
	entry := w.ecs.Entry(entity)
	bodyComponent.SetValue(entry, Body{
		Position:      pos,
		Mass:          PlayerMass,
		LinearDamping: PlayerLinearDamping,
	})
	capsuleComponent.SetValue(entry, Capsule{Radius: CapsuleRadius, HalfHeight: CapsuleHalfHeight})
	playerComponent.SetValue(entry, PlayerTag{UserID: userID})
	w.bodies[userID] = entity
	return pos
}

func (w *World) RemovePlayer(userID string) bool {
	entity, ok := w.bodies[userID]
	if !ok {
		return false
	}
	delete(w.bodies, userID)
	if w.ecs.Valid(entity) {
		w.ecs.Remove(entity)
	}
	return true
}

func (w *World) body(userID string) *Body {
	entity, ok := w.bodies[userID]
	if !ok || !w.ecs.Valid(entity) {
		return nil
	}
	return bodyComponent.Get(w.ecs.Entry(entity))
}

// SetMoveForce replaces the player's directional force until the next command.
func (w *World) SetMoveForce(userID string, dir internal.Direction) bool {
	b := w.body(userID)
	if b == nil {
		return false
	}
	d := dir.Clamped()
	b.Force = internal.Vec3{X: d.X * MoveForce, Z: d.Z * MoveForce}
	return true
}

func (w *World) Position(userID string) (internal.Vec3, bool) {
	b := w.body(userID)
	if b == nil {
		return internal.Vec3{}, false
	}
	return b.Position, true
}

// Step advances every body by dt seconds with semi-implicit Euler integration.
func (w *World) Step(dt float64) {
	rest := w.restHeight()
	bodyQuery.Each(w.ecs, func(entry *donburi.Entry) {
		b := bodyComponent.Get(entry)
		mass := b.Mass
		if mass <= 0 {
			mass = PlayerMass
		}

		accel := w.gravity.Add(b.Force.Scale(1 / mass))
		b.Velocity = b.Velocity.Add(accel.Scale(dt))

		damp := 1 / (1 + b.LinearDamping*dt)
		b.Velocity.X *= damp
		b.Velocity.Z *= damp

		b.Position = b.Position.Add(b.Velocity.Scale(dt))
		if b.Position.Y < rest {
			b.Position.Y = rest
			if b.Velocity.Y < 0 {
				b.Velocity.Y = 0
			}
		}
		if clamped, hit := w.bounds.Clamp(b.Position); hit {
			if clamped.X != b.Position.X {
				b.Velocity.X = 0
			}
			if clamped.Z != b.Position.Z {
				b.Velocity.Z = 0
			}
			b.Position = clamped
		}
	})
}

// Bodies lists player bodies ordered by user id.
func (w *World) Bodies() []internal.BodyState {
	out := make([]internal.BodyState, 0, len(w.bodies))
	for userID := range w.bodies {
		b := w.body(userID)
		if b == nil {
			continue
		}
		out = append(out, internal.BodyState{UserID: userID, Position: b.Position, Velocity: b.Velocity})
	}
	slices.SortFunc(out, func(a, b internal.BodyState) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

func (w *World) BodyCount() int { return len(w.bodies) }

func (w *World) ZombieSpawns() []internal.SpawnPoint {
	return append([]internal.SpawnPoint(nil), w.zombieSpawns...)
}

func (w *World) ItemSpawns() []internal.SpawnPoint {
	return append([]internal.SpawnPoint(nil), w.itemSpawns...)
}

// Free removes every entity. The world must not be used afterwards.
func (w *World) Free() {
	for userID, entity := range w.bodies {
		if w.ecs.Valid(entity) {
			w.ecs.Remove(entity)
		}
		delete(w.bodies, userID)
	}
}
