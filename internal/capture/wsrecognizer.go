package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// recognizerFrame is the wire message of the recognizer service. The client
// opens with a start frame, streams binary PCM, and receives one JSON frame
// per recognition result.
type recognizerFrame struct {
	Type    string `json:"type"`
	Locale  string `json:"locale,omitempty"`
	Text    string `json:"text,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// WSRecognizer bridges to a speech recognition service over WebSocket.
type WSRecognizer struct {
	url    string
	logger *slog.Logger
}

// NewWSRecognizer creates a recognizer client for the given ws:// URL.
func NewWSRecognizer(url string, logger *slog.Logger) *WSRecognizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRecognizer{url: url, logger: logger}
}

// Stream dials the service and opens one recognition stream.
func (r *WSRecognizer) Stream(ctx context.Context, locale string) (RecognizerStream, error) {
	conn, _, err := websocket.Dial(ctx, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial recognizer: %w", err)
	}

	start, err := json.Marshal(recognizerFrame{Type: "start", Locale: locale})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "encode failed")
		return nil, err
	}
	if err := conn.Write(ctx, websocket.MessageText, start); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "start failed")
		return nil, fmt.Errorf("start recognizer stream: %w", err)
	}

	s := &wsStream{
		conn:    conn,
		logger:  r.logger,
		results: make(chan Result, 16),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type wsStream struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	results chan Result
	done    chan struct{}
	once    sync.Once
}

func (s *wsStream) Send(pcm []byte) error {
	return s.conn.Write(context.Background(), websocket.MessageBinary, pcm)
}

func (s *wsStream) Results() <-chan Result {
	return s.results
}

// Close ends the stream. The read loop drains out and closes the results
// channel.
func (s *wsStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.conn.Close(websocket.StatusNormalClosure, "capture stopped")
}

func (s *wsStream) readLoop() {
	defer close(s.results)
	for {
		typ, data, err := s.conn.Read(context.Background())
		if err != nil {
			select {
			case <-s.done:
				// Closed from our side.
			default:
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return
				}
				s.emit(Result{Err: &RecognizerError{Code: ErrCodeNetwork, Message: err.Error()}})
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var f recognizerFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Debug("recognizer frame discarded", "error", err)
			continue
		}
		switch f.Type {
		case "partial":
			s.emit(Result{Text: f.Text})
		case "final":
			s.emit(Result{Text: f.Text, Final: true})
		case "error":
			s.emit(Result{Err: &RecognizerError{Code: f.Code, Message: f.Message}})
			return
		}
	}
}

// emit delivers a result unless the stream was closed locally.
func (s *wsStream) emit(res Result) {
	select {
	case s.results <- res:
	case <-s.done:
	}
}
