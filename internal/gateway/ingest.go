// Package gateway carries the WebSocket surface of the service: the
// speaker-facing ingest endpoint and the listener-facing egress endpoint.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vocallabs/translate-gateway/internal/audio"
	"github.com/vocallabs/translate-gateway/internal/observability"
	"github.com/vocallabs/translate-gateway/internal/session"
	"github.com/vocallabs/translate-gateway/internal/stt"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin against known client hosts
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// startMessage is the first text frame a speaker sends after connecting.
// It pins the session id, source language and target set for the whole
// connection.
type startMessage struct {
	SessionID  string   `json:"session_id"`
	LangSrc    string   `json:"lang_src"`
	Targets    []string `json:"targets"`
	SampleRate int      `json:"sample_rate,omitempty"`
}

// endOfStream is the text frame that ends ingest cleanly. Everything
// buffered up to this point is still flushed through the pipelines.
const endOfStream = "EOF"

const startHandshakeTimeout = 10 * time.Second

// HandleIngest returns the speaker-facing WebSocket handler. The first
// text frame must be a start message; after that, binary frames are audio
// and the EOF text frame ends the session. The phrase hints bias
// recognition toward glossary terms.
func HandleIngest(manager *session.Manager, newRecognizer stt.Factory, phraseHints []string) http.HandlerFunc {
	logger := observability.GetLogger().With().Str("component", "ingest").Logger()

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to upgrade ingest connection")
			return
		}
		defer conn.Close()

		start, err := readStartMessage(conn)
		if err != nil {
			logger.Warn().Err(err).Msg("Rejecting ingest connection")
			closeWithPolicyViolation(conn, err.Error())
			return
		}

		sess, err := manager.OpenSession(start.SessionID, start.LangSrc, start.Targets)
		if err != nil {
			logger.Warn().Err(err).Str("session_id", start.SessionID).Msg("Failed to open session")
			closeWithPolicyViolation(conn, err.Error())
			return
		}

		slog := observability.ForSession(sess.ID)
		slog.Info().
			Str("lang_src", sess.SourceLang).
			Strs("targets", sess.Targets).
			Msg("Ingest connection established")

		ic := &ingestConn{
			conn:    conn,
			manager: manager,
			sess:    sess,
			logger:  slog,
		}
		ic.run(newRecognizer, phraseHints)
	}
}

type ingestConn struct {
	conn    *websocket.Conn
	manager *session.Manager
	sess    *session.Session
	logger  zerolog.Logger
}

// run owns the connection from handshake to teardown. The recognizer's
// event stream is pumped into the segmenter on a side goroutine while the
// read loop forwards audio frames.
func (ic *ingestConn) run(newRecognizer stt.Factory, phraseHints []string) {
	recognizer := newRecognizer(ic.sess.SourceLang, phraseHints)
	if err := recognizer.Start(); err != nil {
		ic.logger.Error().Err(err).Msg("Failed to start recognition stream")
		_ = ic.manager.CloseSession(ic.sess.ID)
		closeWithPolicyViolation(ic.conn, "speech recognition unavailable")
		return
	}

	defer func() {
		if err := recognizer.Close(); err != nil {
			ic.logger.Warn().Err(err).Msg("Error closing recognition stream")
		}
		if err := ic.manager.CloseSession(ic.sess.ID); err != nil {
			ic.logger.Debug().Err(err).Msg("Session already closed")
		}
		ic.logger.Info().Msg("Ingest connection closed")
	}()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for ev := range recognizer.Events() {
			if err := ic.manager.Ingest(ic.sess.ID, ev); err != nil {
				ic.logger.Debug().Err(err).Msg("Dropping transcript event")
				return
			}
		}
	}()

	ic.readLoop(recognizer)

	// Let the recognizer finish in-flight transcripts before teardown.
	_ = recognizer.Stop()
	select {
	case <-pumpDone:
	case <-time.After(2 * time.Second):
		ic.logger.Warn().Msg("Timed out waiting for final transcripts")
	}
}

// readLoop forwards binary frames to the recognizer until EOF, an invalid
// frame, or a connection error.
func (ic *ingestConn) readLoop(recognizer stt.Client) {
	for {
		msgType, payload, err := ic.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ic.logger.Warn().Err(err).Msg("Ingest read error")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := audio.ValidateFrame(payload); err != nil {
				ic.logger.Warn().Err(err).Msg("Rejecting malformed audio frame")
				closeWithPolicyViolation(ic.conn, err.Error())
				return
			}
			observability.RecordAudioBytes("in", int64(len(payload)))
			if err := recognizer.SendAudio(payload); err != nil {
				ic.logger.Warn().Err(err).Msg("Failed to forward audio frame")
			}

		case websocket.TextMessage:
			if string(payload) == endOfStream {
				ic.logger.Info().Msg("End of stream received")
				return
			}
			ic.logger.Warn().Str("payload", string(payload)).Msg("Unexpected text frame during ingest")
			closeWithPolicyViolation(ic.conn, "unexpected text frame, expected audio or EOF")
			return
		}
	}
}

// readStartMessage reads and validates the handshake frame.
func readStartMessage(conn *websocket.Conn) (*startMessage, error) {
	_ = conn.SetReadDeadline(time.Now().Add(startHandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	msgType, payload, err := conn.ReadMessage()
	if err != nil {
		return nil, errors.New("no start message received")
	}
	if msgType != websocket.TextMessage {
		return nil, errors.New("first frame must be a text start message")
	}

	var start startMessage
	if err := json.Unmarshal(payload, &start); err != nil {
		return nil, errors.New("start message is not valid JSON")
	}
	if start.LangSrc == "" {
		return nil, errors.New("start message missing lang_src")
	}
	if len(start.Targets) == 0 {
		return nil, errors.New("start message missing targets")
	}
	return &start, nil
}

// closeWithPolicyViolation sends a close frame naming the violation, so
// clients see the reason instead of an abrupt disconnect.
func closeWithPolicyViolation(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
