package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gnss-ins-fuse/internal/eskf"
	"github.com/relabs-tech/gnss-ins-fuse/internal/events"
	"github.com/relabs-tech/gnss-ins-fuse/internal/gnss"
	"github.com/relabs-tech/gnss-ins-fuse/internal/imu"
	"github.com/relabs-tech/gnss-ins-fuse/internal/rotation"
)

type capturingSink struct {
	poses []TrajectoryPoint
}

func (s *capturingSink) PublishPose(p TrajectoryPoint) {
	s.poses = append(s.poses, p)
}

func TestRunRealtimeAppliesGnssAfterInit(t *testing.T) {
	q := events.NewQueue()
	q.Push(events.Event{Kind: events.KindGNSS, Time: 0, GNSS: gnss.Fix{
		Time: 0, Position: rotation.Vec3{}, Rotation: rotation.Identity(), HeadingValid: true,
	}})
	for i := 1; i <= 50; i++ {
		q.Push(events.Event{Kind: events.KindIMU, Time: float64(i) * 0.04, IMU: imu.Sample{
			Time: float64(i) * 0.04, SpecificForce: rotation.NewVec3(0, 0, 9.8),
		}})
	}

	snapshot := &PoseSnapshot{}
	sink := &capturingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunRealtime(ctx, q, Options{ESKF: eskf.DefaultOptions()}, snapshot, sink) }()

	require.Eventually(t, func() bool {
		_, set := snapshot.Get()
		return set
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	pose, set := snapshot.Get()
	require.True(t, set)
	assert.InDelta(t, 0, pose.P.X, 1e-6)
	assert.NotEmpty(t, sink.poses)
}

func TestRunRealtimeHoldsFutureGnssUntilPredictCatchesUp(t *testing.T) {
	q := events.NewQueue()
	q.Push(events.Event{Kind: events.KindGNSS, Time: 0, GNSS: gnss.Fix{
		Time: 0, Position: rotation.Vec3{}, Rotation: rotation.Identity(), HeadingValid: true,
	}})
	q.Push(events.Event{Kind: events.KindGNSS, Time: 2.0, GNSS: gnss.Fix{
		Time: 2.0, Position: rotation.NewVec3(1, 0, 0), Rotation: rotation.Identity(), HeadingValid: true,
	}})
	for i := 1; i <= 60; i++ {
		q.Push(events.Event{Kind: events.KindIMU, Time: float64(i) * 0.04, IMU: imu.Sample{
			Time: float64(i) * 0.04, SpecificForce: rotation.NewVec3(0, 0, 9.8),
		}})
	}

	snapshot := &PoseSnapshot{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunRealtime(ctx, q, Options{ESKF: eskf.DefaultOptions()}, snapshot, nil) }()

	require.Eventually(t, func() bool {
		pose, set := snapshot.Get()
		return set && pose.HasGps && pose.Time >= 2.0
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunRealtimeDropsStaleGnss(t *testing.T) {
	q := events.NewQueue()
	q.Push(events.Event{Kind: events.KindGNSS, Time: 0, GNSS: gnss.Fix{
		Time: 0, Position: rotation.Vec3{}, Rotation: rotation.Identity(), HeadingValid: true,
	}})
	for i := 1; i <= 300; i++ {
		q.Push(events.Event{Kind: events.KindIMU, Time: float64(i) * 0.04, IMU: imu.Sample{
			Time: float64(i) * 0.04, SpecificForce: rotation.NewVec3(0, 0, 9.8),
		}})
	}
	// arrives 11s "behind" the filter's advancing current time: stale, must drop.
	q.Push(events.Event{Kind: events.KindGNSS, Time: 1.0, GNSS: gnss.Fix{
		Time: 1.0, Position: rotation.NewVec3(100, 100, 0), Rotation: rotation.Identity(), HeadingValid: true,
	}})

	snapshot := &PoseSnapshot{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunRealtime(ctx, q, Options{ESKF: eskf.DefaultOptions()}, snapshot, nil) }()

	require.Eventually(t, func() bool {
		return q.Len() == 0
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	pose, set := snapshot.Get()
	require.True(t, set)
	assert.Less(t, pose.P.Norm(), 50.0)
}
