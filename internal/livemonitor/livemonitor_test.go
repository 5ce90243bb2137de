package livemonitor

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gnss-ins-fuse/internal/pipeline"
	"github.com/relabs-tech/gnss-ins-fuse/internal/rotation"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/pose"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHandlePoseWSBroadcastsLatestPose(t *testing.T) {
	snapshot := &pipeline.PoseSnapshot{}
	snapshot.Set(pipeline.TrajectoryPoint{
		Time: 1.5,
		P:    rotation.NewVec3(1, 2, 3),
		Q:    [4]float64{1, 0, 0, 0},
	})

	server := httptest.NewServer(HandlePoseWS(snapshot))
	defer server.Close()

	conn := dial(t, server)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var got poseMessage
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, 1.5, got.Time)
	require.Equal(t, [3]float64{1, 2, 3}, got.P)
}

func TestHandlePoseWSSkipsUnchangedPose(t *testing.T) {
	snapshot := &pipeline.PoseSnapshot{}
	snapshot.Set(pipeline.TrajectoryPoint{Time: 1.0})

	server := httptest.NewServer(HandlePoseWS(snapshot))
	defer server.Close()

	conn := dial(t, server)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first poseMessage
	require.NoError(t, conn.ReadJSON(&first))

	// No change to the snapshot: the next read should time out rather
	// than receive a duplicate push.
	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	var second poseMessage
	err := conn.ReadJSON(&second)
	require.Error(t, err)
}
