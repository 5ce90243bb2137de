// Package livemonitor serves the realtime pipeline's latest pose over
// a read-only websocket feed for an operator console.
package livemonitor

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/gnss-ins-fuse/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// pushInterval is how often a connected client is sent the current
// snapshot when it has changed.
const pushInterval = 200 * time.Millisecond

// poseMessage is the wire shape pushed to each connected client.
type poseMessage struct {
	Time   float64    `json:"time"`
	P      [3]float64 `json:"position"`
	Q      [4]float64 `json:"orientation"` // w, x, y, z
	V      [3]float64 `json:"velocity"`
	HasGps bool        `json:"has_gps"`
}

func toMessage(p pipeline.TrajectoryPoint) poseMessage {
	return poseMessage{
		Time:   p.Time,
		P:      [3]float64{p.P.X, p.P.Y, p.P.Z},
		Q:      p.Q,
		V:      [3]float64{p.V.X, p.V.Y, p.V.Z},
		HasGps: p.HasGps,
	}
}

// HandlePoseWS upgrades the request to a websocket and pushes snapshot's
// latest pose every pushInterval while the connection stays open,
// skipping a push when the pose hasn't changed since the last one sent.
//
// The realtime pipeline runs no live turn detector (§4.6 has no
// heading-aux stream to gate on), so this feed carries pose only; a
// dashboard wanting turn-segment state reads it from the offline
// pipeline's artifacts instead.
func HandlePoseWS(snapshot *pipeline.PoseSnapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("livemonitor: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pushInterval)
		defer ticker.Stop()

		var lastSent pipeline.TrajectoryPoint
		sentOnce := false

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				pose, ok := snapshot.Get()
				if !ok {
					continue
				}
				if sentOnce && pose == lastSent {
					continue
				}
				if err := conn.WriteJSON(toMessage(pose)); err != nil {
					log.Printf("livemonitor: websocket write error: %v", err)
					return
				}
				lastSent = pose
				sentOnce = true
			}
		}
	}
}
