// Package viewport computes the map camera for a tracking view: a padded
// bounding box around the agent and destination plus a rotation angle.
// It only reads published positions and never touches order or tracking
// state.
package viewport

import (
	"errors"
	"math"
	"sync"

	"foodtrack/internal/geo"
	"foodtrack/internal/types"
)

var ErrTooFewPoints = errors.New("viewport needs at least two points")

const (
	DefaultPadding      = 0.2
	DefaultFocusPadding = 0.15
	DefaultRotateStep   = 10.0
	ManualRotateStep    = 45.0
)

// FitBounds returns the box around points grown by padding on each side.
func FitBounds(points []types.Point, padding float64) (geo.Bounds, error) {
	if len(points) < 2 {
		return geo.Bounds{}, ErrTooFewPoints
	}
	b, err := geo.BoundsOf(points...)
	if err != nil {
		return geo.Bounds{}, err
	}
	return b.Pad(padding), nil
}

// Rotate returns (current + delta) normalised to [0, 360).
func Rotate(current, delta float64) float64 {
	a := math.Mod(current+delta, 360)
	if a < 0 {
		a += 360
	}
	return a
}

type View struct {
	Bounds      geo.Bounds  `json:"bounds"`
	Center      types.Point `json:"center"`
	RotationDeg float64     `json:"rotation_deg"`
	AutoFit     bool        `json:"auto_fit"`
	AutoRotate  bool        `json:"auto_rotate"`
	Fitted      bool        `json:"fitted"`
}

type Config struct {
	Padding      float64
	FocusPadding float64
	RotateStep   float64
}

// Controller holds the camera state for one viewer.
type Controller struct {
	mu   sync.Mutex
	cfg  Config
	view View
	last []types.Point
}

func NewController(cfg Config) *Controller {
	if cfg.Padding <= 0 {
		cfg.Padding = DefaultPadding
	}
	if cfg.FocusPadding <= 0 {
		cfg.FocusPadding = DefaultFocusPadding
	}
	if cfg.RotateStep == 0 {
		cfg.RotateStep = DefaultRotateStep
	}
	return &Controller{cfg: cfg, view: View{AutoFit: true}}
}

// Observe records the latest positions and refits when auto-fit is on.
// With auto-fit off the view stays frozen.
func (c *Controller) Observe(points ...types.Point) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = append(c.last[:0], points...)
	if c.view.AutoFit {
		c.fitLocked(c.cfg.Padding)
	}
	return c.view
}

// SetAutoFit toggles auto-fit. Enabling it refits to the last positions at once.
func (c *Controller) SetAutoFit(enabled bool) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.AutoFit = enabled
	if enabled {
		c.fitLocked(c.cfg.Padding)
	}
	return c.view
}

// Focus is a manual request to frame the last positions, honoured even while
// auto-fit is off.
func (c *Controller) Focus() (View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fitLocked(c.cfg.FocusPadding) {
		return c.view, ErrTooFewPoints
	}
	return c.view, nil
}

func (c *Controller) RotateBy(delta float64) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.RotationDeg = Rotate(c.view.RotationDeg, delta)
	return c.view
}

func (c *Controller) ResetRotation() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.RotationDeg = 0
	return c.view
}

func (c *Controller) SetAutoRotate(enabled bool) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.AutoRotate = enabled
	return c.view
}

// Tick advances auto-rotation by one step. It reports false when
// auto-rotation is off.
func (c *Controller) Tick() (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.view.AutoRotate {
		return c.view, false
	}
	c.view.RotationDeg = Rotate(c.view.RotationDeg, c.cfg.RotateStep)
	return c.view, true
}

func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Controller) fitLocked(padding float64) bool {
	b, err := FitBounds(c.last, padding)
	if err != nil {
		return false
	}
	c.view.Bounds = b
	c.view.Center = b.Center()
	c.view.Fitted = true
	return true
}
