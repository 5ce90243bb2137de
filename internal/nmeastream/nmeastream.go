// Package nmeastream implements the serial NMEA GNSS source (§4.6b):
// it opens a serial device, parses RMC sentences, and pushes decoded
// fixes onto a realtime pipeline queue — a live alternative to the
// $GPS tokens the offline log format carries.
package nmeastream

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/gnss-ins-fuse/internal/coord"
	"github.com/relabs-tech/gnss-ins-fuse/internal/events"
	"github.com/relabs-tech/gnss-ins-fuse/internal/logparser"
)

// Source reads RMC sentences off a serial port and converts them into
// GNSS events via the shared coordinate adapter.
type Source struct {
	PortName string
	BaudRate uint

	Coord *coord.Adapter
	// Epoch is subtracted from every received fix's wall-clock time to
	// produce the seconds-since-start timestamp the ESKF expects. Set
	// once, at pipeline startup, shared with any IMU source so both
	// streams share one epoch.
	Epoch time.Time
}

// Run implements events.Source. It blocks reading lines until opening
// or reading the port fails, and then returns that error.
func (s *Source) Run(q *events.Queue) error {
	opts := serial.OpenOptions{
		PortName:              s.PortName,
		BaudRate:              s.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return fmt.Errorf("nmeastream: open %s: %w", s.PortName, err)
	}
	defer port.Close()
	log.Printf("nmeastream: serial port %s opened at %d baud", s.PortName, s.BaudRate)

	reader := bufio.NewReader(port)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("nmeastream: read: %w", err)
		}
		s.handleLine(line, q)
	}
}

// RunContext is a context-aware wrapper used by the CLI entrypoint:
// it runs Run in a goroutine and returns Run's error, or nil as soon
// as ctx is done. On cancellation it does not close the port; the Run
// goroutine keeps reading until the process exits.
func (s *Source) RunContext(ctx context.Context, q *events.Queue) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(q) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Source) handleLine(line string, q *events.Queue) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "$") {
		return
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return
	}
	if sentence.DataType() != nmea.TypeRMC {
		return
	}
	m := sentence.(nmea.RMC)
	if m.Validity != "A" {
		return
	}

	fix := logparser.GeoFix{
		Time:         time.Since(s.Epoch).Seconds(),
		LatDeg:       m.Latitude,
		LonDeg:       m.Longitude,
		HeadingDeg:   m.Course,
		HeadingValid: true,
		SpeedMps:     m.Speed * 0.514444,
		Status:       "A",
	}

	converted, ok := s.Coord.Convert(fix)
	if !ok {
		log.Printf("nmeastream: dropping unprojectable fix lat=%.6f lon=%.6f", fix.LatDeg, fix.LonDeg)
		return
	}
	q.Push(events.Event{Kind: events.KindGNSS, Time: converted.Time, GNSS: converted})
}
