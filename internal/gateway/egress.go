package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vocallabs/translate-gateway/internal/config"
	"github.com/vocallabs/translate-gateway/internal/fanout"
	"github.com/vocallabs/translate-gateway/internal/observability"
	"github.com/vocallabs/translate-gateway/internal/session"
)

// helloMessage is the first frame sent to a listener so playback can be
// configured before any audio arrives.
type helloMessage struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target"`
	SampleRate int    `json:"sample_rate"`
}

const writeTimeout = 5 * time.Second

var errListenerSaturated = errors.New("listener outbound queue full")

// HandleEgress returns the listener-facing WebSocket handler, routed as
// /out/{session_id}/{target}. The session must already be open.
func HandleEgress(manager *session.Manager, dispatcher *fanout.Dispatcher, cfg *config.Config) http.HandlerFunc {
	logger := observability.GetLogger().With().Str("component", "egress").Logger()

	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("session_id")
		target := r.PathValue("target")
		if sessionID == "" || target == "" {
			http.Error(w, "session id and target are required", http.StatusBadRequest)
			return
		}

		sess, ok := manager.Get(sessionID)
		if !ok {
			http.Error(w, "unknown session id", http.StatusNotFound)
			return
		}
		if !hasTarget(sess, target) {
			http.Error(w, "target not served by this session", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to upgrade egress connection")
			return
		}

		l := newWSListener(conn, cfg.ListenerQueueDepth, observability.ForTarget(sessionID, target))

		hello, _ := json.Marshal(helloMessage{
			SessionID:  sessionID,
			Target:     target,
			SampleRate: cfg.SampleRate,
		})
		if err := l.SendText(hello); err != nil {
			l.close()
			return
		}

		dispatcher.Register(sessionID, target, l)

		// Listeners never send audio; the read loop only drains control
		// frames and detects disconnects.
		go func() {
			defer func() {
				dispatcher.Unregister(sessionID, target, l)
				l.close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}

func hasTarget(sess *session.Session, target string) bool {
	for _, t := range sess.Targets {
		if t == target {
			return true
		}
	}
	return false
}

type outboundFrame struct {
	binary  bool
	payload []byte
}

// wsListener adapts one egress WebSocket connection to fanout.Listener.
// Sends are queued on a bounded channel and written by a single goroutine;
// when the queue is full the send fails, which makes the dispatcher drop
// the listener instead of stalling the pipeline.
type wsListener struct {
	conn      *websocket.Conn
	out       chan outboundFrame
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

func newWSListener(conn *websocket.Conn, queueDepth int, logger zerolog.Logger) *wsListener {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	l := &wsListener{
		conn:   conn,
		out:    make(chan outboundFrame, queueDepth),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.writeLoop()
	return l
}

func (l *wsListener) SendText(payload []byte) error {
	return l.enqueue(outboundFrame{binary: false, payload: payload})
}

func (l *wsListener) SendBinary(payload []byte) error {
	return l.enqueue(outboundFrame{binary: true, payload: payload})
}

func (l *wsListener) enqueue(frame outboundFrame) error {
	select {
	case <-l.done:
		return errors.New("listener closed")
	default:
	}

	select {
	case l.out <- frame:
		return nil
	default:
		return errListenerSaturated
	}
}

func (l *wsListener) writeLoop() {
	defer l.conn.Close()
	for {
		select {
		case frame := <-l.out:
			msgType := websocket.TextMessage
			if frame.binary {
				msgType = websocket.BinaryMessage
				observability.RecordAudioBytes("out", int64(len(frame.payload)))
			}
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := l.conn.WriteMessage(msgType, frame.payload); err != nil {
				l.logger.Debug().Err(err).Msg("Egress write failed")
				return
			}
		case <-l.done:
			return
		}
	}
}

func (l *wsListener) close() {
	l.closeOnce.Do(func() { close(l.done) })
}
