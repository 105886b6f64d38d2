// README: Tracking handlers: one-shot snapshot and a websocket stream that
// pairs live snapshots with a per-viewer camera.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"foodtrack/internal/modules/order"
	"foodtrack/internal/modules/tracking"
	"foodtrack/internal/types"
	"foodtrack/internal/viewport"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	defaultRotateEvery = time.Second
)

type TrackingHandler struct {
	order       *order.Service
	tracker     *tracking.Tracker
	upgrader    websocket.Upgrader
	rotateEvery time.Duration
}

func NewTrackingHandler(orderSvc *order.Service, tracker *tracking.Tracker) *TrackingHandler {
	return &TrackingHandler{
		order:   orderSvc,
		tracker: tracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rotateEvery: defaultRotateEvery,
	}
}

func (h *TrackingHandler) Get(c *gin.Context) {
	o, ok := h.authorize(c)
	if !ok {
		return
	}
	snap, err := h.tracker.Snapshot(c.Request.Context(), o.ID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

// viewCommand is a camera instruction sent by the client.
type viewCommand struct {
	Type    string  `json:"type"`
	Degrees float64 `json:"degrees,omitempty"`
	Enabled bool    `json:"enabled,omitempty"`
}

type streamFrame struct {
	Snapshot *tracking.Snapshot `json:"snapshot,omitempty"`
	View     viewport.View      `json:"view"`
	Error    string             `json:"error,omitempty"`
}

// Stream upgrades to a websocket and pushes a frame per snapshot. Clients
// steer their camera with viewCommand messages.
func (h *TrackingHandler) Stream(c *gin.Context) {
	o, ok := h.authorize(c)
	if !ok {
		return
	}
	updates, cancel, err := h.tracker.Subscribe(c.Request.Context(), o.ID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, stop := context.WithCancel(c.Request.Context())
	defer stop()
	cmds := make(chan viewCommand)
	go readCommands(ctx, stop, conn, cmds)

	cam := viewport.NewController(viewport.Config{})
	rotate := time.NewTicker(h.rotateEvery)
	defer rotate.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		var frame streamFrame
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "tracking ended"))
				return
			}
			frame = streamFrame{Snapshot: &snap, View: cam.Observe(framePoints(snap)...)}
		case cmd := <-cmds:
			frame = applyCommand(cam, cmd)
		case <-rotate.C:
			view, moved := cam.Tick()
			if !moved {
				continue
			}
			frame = streamFrame{View: view}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

func readCommands(ctx context.Context, stop context.CancelFunc, conn *websocket.Conn, out chan<- viewCommand) {
	defer stop()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var cmd viewCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

func applyCommand(cam *viewport.Controller, cmd viewCommand) streamFrame {
	switch cmd.Type {
	case "focus":
		view, err := cam.Focus()
		if err != nil {
			return streamFrame{View: view, Error: err.Error()}
		}
		return streamFrame{View: view}
	case "rotate":
		return streamFrame{View: cam.RotateBy(cmd.Degrees)}
	case "reset_rotation":
		return streamFrame{View: cam.ResetRotation()}
	case "auto_fit":
		return streamFrame{View: cam.SetAutoFit(cmd.Enabled)}
	case "auto_rotate":
		return streamFrame{View: cam.SetAutoRotate(cmd.Enabled)}
	}
	return streamFrame{View: cam.View(), Error: "unknown command " + cmd.Type}
}

// framePoints are the positions the camera keeps in frame: the agent, when
// known, and the destination.
func framePoints(snap tracking.Snapshot) []types.Point {
	if snap.Position == nil {
		return []types.Point{snap.Destination}
	}
	return []types.Point{*snap.Position, snap.Destination}
}

func (h *TrackingHandler) authorize(c *gin.Context) (*order.Order, bool) {
	id, ok := orderID(c)
	if !ok {
		return nil, false
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeOrderError(c, err)
		return nil, false
	}
	if !canView(c, o) {
		writeError(c, http.StatusNotFound, order.ErrNotFound.Error())
		return nil, false
	}
	return o, true
}
