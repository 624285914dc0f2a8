// physics/physics.go
package physics

import (
	"github.com/jakecoffman/cp"
)

// Config 物理世界参数
//
// Coordinates are y-down, matching the wire format: gravity pulls
// toward larger y and the floor sits at Height.
type Config struct {
	Width  float64
	Height float64
	// Gravity is the downward acceleration in units per second squared.
	Gravity     float64
	BallRadius  float64
	BallMass    float64
	Restitution float64
	Friction    float64
	// SleepTime is how long a body must stay idle before the engine
	// puts it to sleep.
	SleepTime float64
	// IdleSpeed below which a body counts as idle. Zero lets the
	// engine derive a threshold from gravity.
	IdleSpeed float64
}

// DefaultConfig returns the tuning the game shipped with.
func DefaultConfig() Config {
	return Config{
		Width:       800,
		Height:      600,
		Gravity:     900,
		BallRadius:  16,
		BallMass:    1,
		Restitution: 0.3,
		Friction:    0.8,
		SleepTime:   0.5,
	}
}

// Body 单个球体的物理句柄
type Body interface {
	Position() (x, y float64)
	SetPosition(x, y float64)
	Velocity() (vx, vy float64)
	SetVelocity(vx, vy float64)
	Angle() float64
	SetAngle(a float64)
	AngularVelocity() float64
	SetAngularVelocity(w float64)
	IsSleeping() bool
	Wake()
}

// World 物理世界接口，房间通过它驱动仿真
//
// The interface exists so the room engine can run against a scripted
// world in tests; the only production implementation wraps chipmunk.
type World interface {
	AddBall(x, y float64) Body
	RemoveBall(Body)
	Step(dt float64)
}

type cpWorld struct {
	space *cp.Space
	cfg   Config
}

// NewWorld builds a chipmunk space with a floor and two side walls.
// The top stays open so balls can be dropped in from above.
func NewWorld(cfg Config) World {
	space := cp.NewSpace()
	space.Iterations = 10
	space.SetGravity(cp.Vector{X: 0, Y: cfg.Gravity})
	space.SleepTimeThreshold = cfg.SleepTime
	if cfg.IdleSpeed > 0 {
		space.IdleSpeedThreshold = cfg.IdleSpeed
	}

	walls := []struct{ a, b cp.Vector }{
		{cp.Vector{X: 0, Y: cfg.Height}, cp.Vector{X: cfg.Width, Y: cfg.Height}},
		{cp.Vector{X: 0, Y: 0}, cp.Vector{X: 0, Y: cfg.Height}},
		{cp.Vector{X: cfg.Width, Y: 0}, cp.Vector{X: cfg.Width, Y: cfg.Height}},
	}
	for _, w := range walls {
		seg := space.AddShape(cp.NewSegment(space.StaticBody, w.a, w.b, 1))
		seg.SetElasticity(cfg.Restitution)
		seg.SetFriction(cfg.Friction)
	}

	return &cpWorld{space: space, cfg: cfg}
}

func (w *cpWorld) AddBall(x, y float64) Body {
	moment := cp.MomentForCircle(w.cfg.BallMass, 0, w.cfg.BallRadius, cp.Vector{})
	body := w.space.AddBody(cp.NewBody(w.cfg.BallMass, moment))
	body.SetPosition(cp.Vector{X: x, Y: y})

	shape := w.space.AddShape(cp.NewCircle(body, w.cfg.BallRadius, cp.Vector{}))
	shape.SetElasticity(w.cfg.Restitution)
	shape.SetFriction(w.cfg.Friction)

	return &ballBody{body: body, shape: shape}
}

func (w *cpWorld) RemoveBall(b Body) {
	bb, ok := b.(*ballBody)
	if !ok {
		return
	}
	// Shape first, then body, as the engine requires.
	w.space.RemoveShape(bb.shape)
	w.space.RemoveBody(bb.body)
}

func (w *cpWorld) Step(dt float64) {
	w.space.Step(dt)
}

type ballBody struct {
	body  *cp.Body
	shape *cp.Shape
}

func (b *ballBody) Position() (float64, float64) {
	p := b.body.Position()
	return p.X, p.Y
}

func (b *ballBody) SetPosition(x, y float64) {
	b.body.SetPosition(cp.Vector{X: x, Y: y})
}

func (b *ballBody) Velocity() (float64, float64) {
	v := b.body.Velocity()
	return v.X, v.Y
}

func (b *ballBody) SetVelocity(vx, vy float64) {
	b.body.SetVelocity(vx, vy)
}

func (b *ballBody) Angle() float64 {
	return b.body.Angle()
}

func (b *ballBody) SetAngle(a float64) {
	b.body.SetAngle(a)
}

func (b *ballBody) AngularVelocity() float64 {
	return b.body.AngularVelocity()
}

func (b *ballBody) SetAngularVelocity(w float64) {
	b.body.SetAngularVelocity(w)
}

func (b *ballBody) IsSleeping() bool {
	return b.body.IsSleeping()
}

func (b *ballBody) Wake() {
	b.body.Activate()
}
