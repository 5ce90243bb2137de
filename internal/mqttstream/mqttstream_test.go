package mqttstream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gnss-ins-fuse/internal/coord"
	"github.com/relabs-tech/gnss-ins-fuse/internal/events"
	"github.com/relabs-tech/gnss-ins-fuse/internal/pipeline"
)

type fakeMessage struct {
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return "test" }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestOnIMUPushesEvent(t *testing.T) {
	s := &Source{Coord: coord.New(coord.DefaultOptions()), Epoch: time.Now()}
	q := events.NewQueue()
	payload, err := json.Marshal(imuMessage{TimeUnixSeconds: 1.5, GyroX: 0.1, AccelZ: 9.8})
	require.NoError(t, err)

	s.onIMU(q)(nil, &fakeMessage{payload: payload})

	require.Equal(t, 1, q.Len())
	ev, _ := q.Pop()
	assert.Equal(t, events.KindIMU, ev.Kind)
	assert.Equal(t, 1.5, ev.IMU.Time)
	assert.InDelta(t, 0.1, ev.IMU.AngularRate.X, 1e-12)
}

func TestOnIMUDropsMalformedPayload(t *testing.T) {
	s := &Source{Coord: coord.New(coord.DefaultOptions()), Epoch: time.Now()}
	q := events.NewQueue()

	s.onIMU(q)(nil, &fakeMessage{payload: []byte("not json")})

	assert.Equal(t, 0, q.Len())
}

func TestOnGNSSPushesConvertedEvent(t *testing.T) {
	s := &Source{Coord: coord.New(coord.DefaultOptions()), Epoch: time.Now()}
	q := events.NewQueue()
	payload, err := json.Marshal(gnssMessage{
		TimeUnixSeconds: 3.0, LatDeg: 49.274, LonDeg: -123.185, HeadingDeg: 90, HeadingValid: true, Status: "A",
	})
	require.NoError(t, err)

	s.onGNSS(q)(nil, &fakeMessage{payload: payload})

	require.Equal(t, 1, q.Len())
	ev, _ := q.Pop()
	assert.Equal(t, events.KindGNSS, ev.Kind)
	assert.True(t, ev.GNSS.HeadingValid)
}

func TestOnGNSSDropsMalformedPayload(t *testing.T) {
	s := &Source{Coord: coord.New(coord.DefaultOptions()), Epoch: time.Now()}
	q := events.NewQueue()

	s.onGNSS(q)(nil, &fakeMessage{payload: []byte("{")})

	assert.Equal(t, 0, q.Len())
}

func TestPublishPoseNoOpWithoutConnection(t *testing.T) {
	s := &Source{}
	// client is nil (never connected): must not panic.
	s.PublishPose(pipeline.TrajectoryPoint{})
}

