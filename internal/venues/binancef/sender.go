package binancef

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/perpgate/perpgate/internal/conn"
	"github.com/perpgate/perpgate/internal/subs"
)

type controlRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

type controlAck struct {
	ID *uint64 `json:"id"`
}

func controlID(id uint64) string {
	return "ctl-" + strconv.FormatUint(id, 10)
}

func encodeControl(method string, streams []string, id uint64) ([]byte, error) {
	return json.Marshal(controlRequest{Method: method, Params: streams, ID: id})
}

// correlateControlID claims SUBSCRIBE/UNSUBSCRIBE acknowledgements for their
// pending requests. Market and user frames carry no top-level id.
func correlateControlID(payload []byte) (string, bool) {
	var ack controlAck
	if err := json.Unmarshal(payload, &ack); err != nil || ack.ID == nil {
		return "", false
	}
	return controlID(*ack.ID), true
}

// Venue limit: control frames are paced and stream lists chunked so a
// resubscribe burst after reconnect stays inside message rate limits.
const (
	controlInterval    = 250 * time.Millisecond
	maxStreamsPerFrame = 32
)

// wireSender translates logical stream keys into venue control messages.
// During session setup frames go out on the session writer; afterwards they
// run as correlated requests so failures surface to the subscriber.
type wireSender struct {
	g       *Gateway
	limiter *rate.Limiter

	mu            sync.Mutex
	sessionWriter conn.Writer
}

func newWireSender(g *Gateway) *wireSender {
	return &wireSender{
		g:       g,
		limiter: rate.NewLimiter(rate.Every(controlInterval), 1),
	}
}

func (s *wireSender) setWriter(w conn.Writer) {
	s.mu.Lock()
	s.sessionWriter = w
	s.mu.Unlock()
}

func (s *wireSender) SendSubscribe(ctx context.Context, keys []subs.Key) error {
	return s.send(ctx, "SUBSCRIBE", keys)
}

func (s *wireSender) SendUnsubscribe(ctx context.Context, keys []subs.Key) error {
	return s.send(ctx, "UNSUBSCRIBE", keys)
}

func (s *wireSender) send(ctx context.Context, method string, keys []subs.Key) error {
	streams := streamsFor(keys)
	for len(streams) > 0 {
		chunk := streams
		if len(chunk) > maxStreamsPerFrame {
			chunk = chunk[:maxStreamsPerFrame]
		}
		streams = streams[len(chunk):]
		if err := s.sendFrame(ctx, method, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (s *wireSender) sendFrame(ctx context.Context, method string, streams []string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	id := s.g.ctrl.Add(1)
	frame, err := encodeControl(method, streams, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	w := s.sessionWriter
	s.mu.Unlock()
	if w != nil {
		// Session setup: the ack is consumed later by the read loop.
		return w.Write(ctx, frame)
	}
	_, err = s.g.manager.Request(ctx, controlID(id), frame)
	return err
}

// streamsFor maps logical keys onto venue stream names. Order and account
// streams ride the listen key subscription and produce no control traffic.
func streamsFor(keys []subs.Key) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		parts := strings.SplitN(string(key), ":", 3)
		switch parts[0] {
		case "depth":
			out = append(out, depthStream(parts[1]))
		case "ticker":
			out = append(out, tickerStream(parts[1]))
		case "klines":
			if len(parts) == 3 {
				out = append(out, klineStream(parts[1], parts[2]))
			}
		case "funding":
			out = append(out, markPriceStream(parts[1]))
		}
	}
	return out
}
