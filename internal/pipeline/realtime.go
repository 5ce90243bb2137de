package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/relabs-tech/gnss-ins-fuse/internal/eskf"
	"github.com/relabs-tech/gnss-ins-fuse/internal/events"
	"github.com/relabs-tech/gnss-ins-fuse/internal/gnss"
)

// defaultStaleGnssSeconds is the spec-mandated drop threshold, used
// whenever Options.RealtimeStaleGnssMaxS is left at zero.
const defaultStaleGnssSeconds = 5.0

// pollInterval is how often the dispatch loop checks an empty queue
// for new events when no source has anything pending.
const pollInterval = 5 * time.Millisecond

// PoseSnapshot is the mutex-guarded latest-pose view the live
// telemetry dashboard reads; the filter itself is never reached into
// directly.
type PoseSnapshot struct {
	mu   sync.RWMutex
	pose TrajectoryPoint
	set  bool
}

// Set records the latest pose. Called only by RunRealtime's loop.
func (s *PoseSnapshot) Set(p TrajectoryPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = p
	s.set = true
}

// Get returns the latest pose and whether one has been set yet.
func (s *PoseSnapshot) Get() (TrajectoryPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pose, s.set
}

// PoseSink is notified with the fused pose after every accepted
// observation, so a transport (e.g. the MQTT source) can republish it
// without the pipeline knowing its wire format.
type PoseSink interface {
	PublishPose(TrajectoryPoint)
}

// RunRealtime drains q, dispatching IMU events to Predict and holding
// GNSS events that arrive ahead of the filter's current time in an
// internal FIFO, draining that FIFO after each Predict while its head
// is no longer in the future. It runs until ctx is cancelled.
func RunRealtime(ctx context.Context, q *events.Queue, opt Options, snapshot *PoseSnapshot, sink PoseSink) error {
	f := eskf.New(opt.ESKF)
	var pendingGnss []gnss.Fix

	staleGnssSeconds := opt.RealtimeStaleGnssMaxS
	if staleGnssSeconds <= 0 {
		staleGnssSeconds = defaultStaleGnssSeconds
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		ev, ok := q.Pop()
		if !ok {
			time.Sleep(pollInterval)
			continue
		}

		switch ev.Kind {
		case events.KindIMU:
			if !f.Predict(ev.IMU) {
				continue
			}
			pendingGnss = drainPending(f, pendingGnss, snapshot, sink)

		case events.KindGNSS:
			if f.Initialized() && f.CurrentTime()-ev.GNSS.Time > staleGnssSeconds {
				log.Printf("pipeline: dropping stale GNSS fix, age %.3fs", f.CurrentTime()-ev.GNSS.Time)
				continue
			}
			if !f.Initialized() || ev.GNSS.Time <= f.CurrentTime() {
				applyGnss(f, ev.GNSS, snapshot, sink)
			} else {
				pendingGnss = append(pendingGnss, ev.GNSS)
			}
		}
	}
}

func drainPending(f *eskf.Filter, pending []gnss.Fix, snapshot *PoseSnapshot, sink PoseSink) []gnss.Fix {
	i := 0
	for i < len(pending) && pending[i].Time <= f.CurrentTime() {
		applyGnss(f, pending[i], snapshot, sink)
		i++
	}
	return pending[i:]
}

func applyGnss(f *eskf.Filter, fix gnss.Fix, snapshot *PoseSnapshot, sink PoseSink) {
	if !f.ObserveGps(fix) {
		return
	}
	pose := snapshotTrajectory(f, true, fix.Position)
	if snapshot != nil {
		snapshot.Set(pose)
	}
	if sink != nil {
		sink.PublishPose(pose)
	}
}
