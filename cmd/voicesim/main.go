// voicesim is a local stand-in for the remote voice service. It speaks
// the same WebSocket wire contract with scripted responses, so the full
// call loop can run offline: point callsimd at it with
// CALLSIM_ENDPOINT=ws://localhost:9090/.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"log/slog"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simhire/callsim/internal/log"
)

const (
	playbackRate = 24000
	// idleTurn is how long the mic can go quiet before the scripted
	// client takes its turn.
	idleTurn = 1200 * time.Millisecond
)

// script is the canned client side of the conversation, one exchange per
// candidate turn.
var script = []struct {
	heard string
	reply string
}{
	{"Hello, thanks for taking my call.", "Hi! I ordered a standing desk two weeks ago and it still has not shipped. Can you check on that for me?"},
	{"Let me look into that for you.", "I appreciate it. The order number is 4415, if that helps."},
	{"I found your order.", "Great. So when is it actually going to arrive? I work from home and I really need it."},
	{"It should arrive soon.", "Alright. Thanks for sorting that out. That is all I needed."},
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	log.Init("info", "")
	logger := log.L().With("component", "voicesim")

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("upgrade failed", "error", err)
			return
		}
		s := &session{ws: ws, logger: logger}
		s.run()
	})

	logger.Info("voicesim listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}
}

type session struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	lastAudio time.Time
	gotAudio  bool
	turn      int
}

func (s *session) run() {
	defer s.ws.Close()

	// First message must be setup.
	var setup struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				SpeechConfig *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voice_name"`
						} `json:"prebuilt_voice_config"`
					} `json:"voice_config"`
				} `json:"speech_config"`
			} `json:"generation_config"`
		} `json:"setup"`
	}
	if err := s.ws.ReadJSON(&setup); err != nil {
		s.logger.Warn("bad setup message", "error", err)
		return
	}
	s.logger.Info("session opened", "model", setup.Setup.Model)

	if err := s.writeJSON(map[string]any{"setupComplete": map[string]any{}}); err != nil {
		return
	}

	stop := make(chan struct{})
	defer close(stop)
	go s.turnTicker(stop)

	for {
		var in struct {
			RealtimeInput struct {
				MediaChunks []struct {
					Data     string `json:"data"`
					MimeType string `json:"mime_type"`
				} `json:"media_chunks"`
			} `json:"realtime_input"`
		}
		if err := s.ws.ReadJSON(&in); err != nil {
			s.logger.Info("session closed", "error", err)
			return
		}
		if len(in.RealtimeInput.MediaChunks) > 0 {
			s.mu.Lock()
			s.lastAudio = time.Now()
			s.gotAudio = true
			s.mu.Unlock()
		}
	}
}

// turnTicker watches for mic silence and plays the next scripted
// exchange when the candidate stops talking.
func (s *session) turnTicker(stop <-chan struct{}) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		due := s.gotAudio && time.Since(s.lastAudio) > idleTurn && s.turn < len(script)
		turn := s.turn
		if due {
			s.gotAudio = false
			s.turn++
		}
		s.mu.Unlock()

		if !due {
			continue
		}
		if err := s.playTurn(turn); err != nil {
			return
		}
	}
}

func (s *session) playTurn(turn int) error {
	line := script[turn]

	// Candidate transcription, split into fragments the way the real
	// service streams them.
	half := len(line.heard) / 2
	if err := s.sendContent(map[string]any{
		"inputTranscription": map[string]any{"text": line.heard[:half]},
	}); err != nil {
		return err
	}
	if err := s.sendContent(map[string]any{
		"inputTranscription": map[string]any{"text": line.heard[half:]},
	}); err != nil {
		return err
	}

	// Reply audio in 200 ms chunks with the transcription alongside.
	chunks := sineChunks(float64(320+60*turn), 3, 200*time.Millisecond)
	frag := len(line.reply) / len(chunks)
	for i, chunk := range chunks {
		text := line.reply[i*frag:]
		if i < len(chunks)-1 {
			text = line.reply[i*frag : (i+1)*frag]
		}
		if err := s.sendContent(map[string]any{
			"modelTurn": map[string]any{
				"parts": []map[string]any{
					{"inlineData": map[string]any{
						"mimeType": "audio/pcm;rate=24000",
						"data":     base64.StdEncoding.EncodeToString(chunk),
					}},
				},
			},
			"outputTranscription": map[string]any{"text": text},
		}); err != nil {
			return err
		}
	}

	return s.sendContent(map[string]any{"turnComplete": true})
}

func (s *session) sendContent(content map[string]any) error {
	return s.writeJSON(map[string]any{"serverContent": content})
}

func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

// sineChunks generates n PCM16 tone chunks at the playback rate.
func sineChunks(freq float64, n int, dur time.Duration) [][]byte {
	samplesPer := int(dur * playbackRate / time.Second)
	chunks := make([][]byte, n)
	phase := 0.0
	step := 2 * math.Pi * freq / playbackRate
	for i := range chunks {
		buf := make([]byte, samplesPer*2)
		for j := 0; j < samplesPer; j++ {
			v := int16(math.Sin(phase) * 0.3 * 32767)
			buf[j*2] = byte(v)
			buf[j*2+1] = byte(v >> 8)
			phase += step
		}
		chunks[i] = buf
	}
	return chunks
}
