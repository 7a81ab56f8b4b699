package http

import (
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceRelay/internal/adapters/signal"
	"github.com/dkeye/VoiceRelay/internal/app"
	"github.com/dkeye/VoiceRelay/internal/app/broadcast"
	"github.com/dkeye/VoiceRelay/internal/app/orch"
	"github.com/dkeye/VoiceRelay/internal/audio"
	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/dkeye/VoiceRelay/internal/recognition"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoEngine answers every audio write with one final result.
type echoEngine struct{}

func (echoEngine) Open(context.Context, recognition.StreamOptions) (recognition.Stream, error) {
	return &echoStream{results: make(chan *recognition.Result, 16)}, nil
}

type echoStream struct {
	mu      sync.Mutex
	closed  bool
	results chan *recognition.Result
}

func (s *echoStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.results <- &recognition.Result{
		Kind:         domain.Recognized,
		Text:         "hello",
		Language:     "en-US",
		Translations: map[string]string{"en": "hello", "zh-Hans": "你好"},
	}
	return len(p), nil
}

func (s *echoStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	return nil
}

func (s *echoStream) Results() <-chan *recognition.Result { return s.results }

type stack struct {
	srv   *httptest.Server
	rooms core.RoomRegistry
	orch  *orch.Orchestrator
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())

	cfg := &config.Config{Mode: "test", WSPath: "/translate-stream"}
	rooms := core.NewRoomRegistry()
	queue := broadcast.NewQueue(100)
	dispatcher := broadcast.NewDispatcher(queue, rooms, app.SimplePolicy{}, broadcast.Options{SendTimeout: time.Second})
	go func() { _ = dispatcher.Run(ctx) }()

	o := &orch.Orchestrator{
		Registry:   app.NewRegistry(),
		Rooms:      rooms,
		Limiter:    app.NewRoomRateLimiter(0, time.Second),
		Adapters:   recognition.NewFactory(ctx, echoEngine{}, queue, recognition.FactoryOptions{}),
		Classifier: audio.EnergyClassifier{Threshold: 0.01},
		Format:     audio.PCM16kMono,
		Window:     audio.DefaultWindow,
	}
	ws := signal.NewSignalWSController(o, signal.Options{PingPeriod: time.Second})
	srv := httptest.NewServer(SetupRouter(ctx, cfg, ws, rooms))

	t.Cleanup(func() {
		cancel()
		srv.Close()
		queue.Close()
	})
	return &stack{srv: srv, rooms: rooms, orch: o}
}

func (s *stack) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/translate-stream"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func encode(meta string, pcm []byte) []byte {
	out := make([]byte, 4, 4+len(meta)+len(pcm))
	binary.BigEndian.PutUint32(out, uint32(len(meta)))
	out = append(out, meta...)
	return append(out, pcm...)
}

func loud(n int) []byte {
	out := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		v := int16(8000)
		if (i/2)%20 >= 10 {
			v = -8000
		}
		binary.LittleEndian.PutUint16(out[i:], uint16(v))
	}
	return out
}

func readJSON(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, mt)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func assertSilent(t *testing.T, c *websocket.Conn) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := c.ReadMessage()
	assert.Error(t, err)
}

func TestRouter_Index(t *testing.T) {
	s := newStack(t)
	resp, err := http.Get(s.srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Nothing to see here!", string(body))
	assert.NotEmpty(t, resp.Cookies())
}

func TestRouter_TranslationReachesRoomOnly(t *testing.T) {
	s := newStack(t)
	speaker, listener, other := s.dial(t), s.dial(t), s.dial(t)

	require.NoError(t, listener.WriteMessage(websocket.BinaryMessage, encode(`{"RoomId":"R1"}`, nil)))
	require.NoError(t, other.WriteMessage(websocket.BinaryMessage, encode(`{"RoomId":"R2"}`, nil)))
	require.NoError(t, speaker.WriteMessage(websocket.BinaryMessage, encode(`{"RoomId":"R1","From":"alice","lang":"en"}`, nil)))
	require.Eventually(t, func() bool {
		return len(s.rooms.Members("R1")) == 2 && len(s.rooms.Members("R2")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A declared length beyond the payload is dropped without closing the socket.
	require.NoError(t, speaker.WriteMessage(websocket.BinaryMessage, append([]byte{0, 0, 0, 0x10}, `{"RoomId":`...)))
	require.NoError(t, speaker.WriteMessage(websocket.TextMessage, []byte("ignored")))
	require.NoError(t, speaker.WriteMessage(websocket.BinaryMessage, encode("", loud(9600))))

	msg := readJSON(t, listener)
	assert.Equal(t, "R1", msg["RoomId"])
	assert.Equal(t, "alice", msg["From"])
	assert.Equal(t, "en", msg["lang"])
	assert.Equal(t, "recognized", msg["status"])
	assert.Equal(t, "你好", msg["Message"])

	mine := readJSON(t, speaker)
	assert.Equal(t, "R1", mine["RoomId"])
	assertSilent(t, other)

	resp, err := http.Get(s.srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	var rooms []core.RoomInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	assert.Equal(t, []core.RoomInfo{{ID: "R1", MemberCount: 2}, {ID: "R2", MemberCount: 1}}, rooms)
}

func TestRouter_SilenceIsNotForwarded(t *testing.T) {
	s := newStack(t)
	speaker := s.dial(t)
	require.NoError(t, speaker.WriteMessage(websocket.BinaryMessage, encode(`{"RoomId":"R1"}`, make([]byte, 9600))))
	assertSilent(t, speaker)
}

func TestRouter_DisconnectCleansUp(t *testing.T) {
	s := newStack(t)
	c := s.dial(t)
	require.NoError(t, c.WriteMessage(websocket.BinaryMessage, encode(`{"RoomId":"R1"}`, nil)))
	require.Eventually(t, func() bool { return len(s.rooms.Members("R1")) == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(s.srv.URL + "/api/rooms/R1/members")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool {
		return len(s.rooms.List()) == 0 && s.orch.Connections() == 0 && s.orch.Registry.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Get(s.srv.URL + "/api/rooms/R1/members")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
