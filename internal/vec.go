package internal

import "math"

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (a Vec3) Add(b Vec3) Vec3      { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3      { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Len() float64         { return math.Sqrt(a.X*a.X + a.Y*a.Y + a.Z*a.Z) }

func (a Vec3) Equal(b Vec3, eps float64) bool {
	return math.Abs(a.X-b.X) <= eps && math.Abs(a.Y-b.Y) <= eps && math.Abs(a.Z-b.Z) <= eps
}

// Direction is the planar movement intent sent by clients.
type Direction struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

func (d Direction) IsFinite() bool {
	return !math.IsNaN(d.X) && !math.IsInf(d.X, 0) && !math.IsNaN(d.Z) && !math.IsInf(d.Z, 0)
}

// Clamped returns the direction scaled down to unit length if it is longer.
// Non-finite input clamps to no movement.
func (d Direction) Clamped() Direction {
	if !d.IsFinite() {
		return Direction{}
	}
	l := math.Hypot(d.X, d.Z)
	if l <= 1 {
		return d
	}
	return Direction{X: d.X / l, Z: d.Z / l}
}

// Bounds is an axis-aligned box on the XZ plane. A zero box means unbounded.
type Bounds struct {
	MinX float64 `json:"minX"`
	MaxX float64 `json:"maxX"`
	MinZ float64 `json:"minZ"`
	MaxZ float64 `json:"maxZ"`
}

func (b Bounds) IsZero() bool {
	return b.MinX == 0 && b.MaxX == 0 && b.MinZ == 0 && b.MaxZ == 0
}

func (b Bounds) Clamp(p Vec3) (Vec3, bool) {
	if b.IsZero() {
		return p, false
	}
	clamped := false
	if p.X < b.MinX {
		p.X, clamped = b.MinX, true
	} else if p.X > b.MaxX {
		p.X, clamped = b.MaxX, true
	}
	if p.Z < b.MinZ {
		p.Z, clamped = b.MinZ, true
	} else if p.Z > b.MaxZ {
		p.Z, clamped = b.MaxZ, true
	}
	return p, clamped
}
