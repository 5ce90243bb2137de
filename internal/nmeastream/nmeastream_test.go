package nmeastream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gnss-ins-fuse/internal/coord"
	"github.com/relabs-tech/gnss-ins-fuse/internal/events"
)

func TestHandleLineAcceptsValidRMC(t *testing.T) {
	s := &Source{
		Coord: coord.New(coord.DefaultOptions()),
		Epoch: time.Now().Add(-time.Second),
	}
	q := events.NewQueue()

	s.handleLine("$GPRMC,225446,A,4916.45,N,12311.12,W,000.5,054.7,191194,020.3,E*68\r\n", q)

	require.Equal(t, 1, q.Len())
	ev, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, events.KindGNSS, ev.Kind)
	assert.True(t, ev.GNSS.HeadingValid)
}

func TestHandleLineRejectsVoidFix(t *testing.T) {
	s := &Source{
		Coord: coord.New(coord.DefaultOptions()),
		Epoch: time.Now(),
	}
	q := events.NewQueue()

	s.handleLine("$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n", q)

	assert.Equal(t, 0, q.Len())
}

func TestHandleLineIgnoresNonRMCSentence(t *testing.T) {
	s := &Source{
		Coord: coord.New(coord.DefaultOptions()),
		Epoch: time.Now(),
	}
	q := events.NewQueue()

	s.handleLine("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n", q)

	assert.Equal(t, 0, q.Len())
}

func TestHandleLineIgnoresBlankAndMalformedLines(t *testing.T) {
	s := &Source{
		Coord: coord.New(coord.DefaultOptions()),
		Epoch: time.Now(),
	}
	q := events.NewQueue()

	s.handleLine("\r\n", q)
	s.handleLine("not a sentence at all", q)

	assert.Equal(t, 0, q.Len())
}
