// Package mqttstream implements the MQTT realtime transport (§4.6a):
// it subscribes to a configured IMU topic and GNSS topic on a broker,
// decodes each message into an events.Event, and pushes it onto the
// realtime pipeline's queue. It also implements pipeline.PoseSink to
// publish the filter's fused pose back to an output topic after every
// accepted observation.
package mqttstream

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/gnss-ins-fuse/internal/coord"
	"github.com/relabs-tech/gnss-ins-fuse/internal/events"
	"github.com/relabs-tech/gnss-ins-fuse/internal/imu"
	"github.com/relabs-tech/gnss-ins-fuse/internal/logparser"
	"github.com/relabs-tech/gnss-ins-fuse/internal/pipeline"
	"github.com/relabs-tech/gnss-ins-fuse/internal/rotation"
)

// imuMessage is the wire shape an upstream IMU producer publishes:
// physical units already, body frame X-right/Y-forward/Z-up.
type imuMessage struct {
	TimeUnixSeconds float64 `json:"t"`
	GyroX           float64 `json:"gx"`
	GyroY           float64 `json:"gy"`
	GyroZ           float64 `json:"gz"`
	AccelX          float64 `json:"ax"`
	AccelY          float64 `json:"ay"`
	AccelZ          float64 `json:"az"`
}

// gnssMessage is the wire shape an upstream GNSS producer publishes:
// geodetic, matching the teacher's gps.Fix JSON shape plus a heading.
type gnssMessage struct {
	TimeUnixSeconds float64 `json:"t"`
	LatDeg          float64 `json:"lat"`
	LonDeg          float64 `json:"lon"`
	AltM            float64 `json:"alt"`
	HeadingDeg      float64 `json:"heading"`
	HeadingValid    bool    `json:"heading_valid"`
	SpeedMps        float64 `json:"speed"`
	Status          string  `json:"status"`
}

// Source is an events.Source backed by an MQTT broker.
type Source struct {
	Broker   string
	ClientID string
	TopicIMU string
	TopicGNSS string
	TopicPose string

	Coord *coord.Adapter
	Epoch time.Time

	client mqtt.Client
}

// Run connects to the broker, subscribes to both topics, and then
// blocks indefinitely. It returns only on a connect or subscribe
// error; neither a lost connection nor Close makes it return.
func (s *Source) Run(q *events.Queue) error {
	opts := mqtt.NewClientOptions().AddBroker(s.Broker).SetClientID(s.ClientID)
	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttstream: connect: %w", token.Error())
	}
	log.Printf("mqttstream: connected to %s", s.Broker)

	if token := s.client.Subscribe(s.TopicIMU, 0, s.onIMU(q)); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttstream: subscribe %s: %w", s.TopicIMU, token.Error())
	}
	if token := s.client.Subscribe(s.TopicGNSS, 0, s.onGNSS(q)); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttstream: subscribe %s: %w", s.TopicGNSS, token.Error())
	}

	<-make(chan struct{})
	return nil
}

// Close disconnects from the broker. Called by the CLI entrypoint on
// shutdown.
func (s *Source) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

func (s *Source) onIMU(q *events.Queue) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var m imuMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("mqttstream: bad IMU payload: %v", err)
			return
		}
		sample := imu.Sample{
			Time:          m.TimeUnixSeconds,
			AngularRate:   rotation.NewVec3(m.GyroX, m.GyroY, m.GyroZ),
			SpecificForce: rotation.NewVec3(m.AccelX, m.AccelY, m.AccelZ),
		}
		q.Push(events.Event{Kind: events.KindIMU, Time: sample.Time, IMU: sample})
	}
}

func (s *Source) onGNSS(q *events.Queue) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var m gnssMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			log.Printf("mqttstream: bad GNSS payload: %v", err)
			return
		}
		fix := logparser.GeoFix{
			Time:         m.TimeUnixSeconds,
			LatDeg:       m.LatDeg,
			LonDeg:       m.LonDeg,
			AltM:         m.AltM,
			HeadingDeg:   m.HeadingDeg,
			HeadingValid: m.HeadingValid,
			SpeedMps:     m.SpeedMps,
			Status:       m.Status,
		}
		converted, ok := s.Coord.Convert(fix)
		if !ok {
			log.Printf("mqttstream: dropping unprojectable fix lat=%.6f lon=%.6f", fix.LatDeg, fix.LonDeg)
			return
		}
		q.Push(events.Event{Kind: events.KindGNSS, Time: converted.Time, GNSS: converted})
	}
}

// PublishPose implements pipeline.PoseSink: it republishes the fused
// pose as JSON on TopicPose after every accepted observation.
func (s *Source) PublishPose(pose pipeline.TrajectoryPoint) {
	if s.client == nil || !s.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(posePayload{
		Time: pose.Time,
		X:    pose.P.X, Y: pose.P.Y, Z: pose.P.Z,
		Qw: pose.Q[0], Qx: pose.Q[1], Qy: pose.Q[2], Qz: pose.Q[3],
	})
	if err != nil {
		log.Printf("mqttstream: pose marshal error: %v", err)
		return
	}
	token := s.client.Publish(s.TopicPose, 0, true, payload)
	token.Wait()
	if token.Error() != nil {
		log.Printf("mqttstream: pose publish error: %v", token.Error())
	}
}

type posePayload struct {
	Time float64 `json:"t"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	Qw   float64 `json:"qw"`
	Qx   float64 `json:"qx"`
	Qy   float64 `json:"qy"`
	Qz   float64 `json:"qz"`
}
