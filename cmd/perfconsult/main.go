// Command perfconsult replays synthetic consultation turns against a running
// doctalk server and reports per-stage turn latency. It speaks the same
// websocket protocol as a browser client: paced audio chunks, an explicit
// stop, and a playback acknowledgement once assistant audio arrives.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/giuliaferri/doctalk/internal/audio"
	"github.com/giuliaferri/doctalk/internal/protocol"
)

type options struct {
	baseURL        string
	userID         string
	turns          int
	chunkMS        int
	realtime       float64
	utteranceMS    int
	wavPaths       []string
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	verbose        bool
}

type audioClip struct {
	PCM16LE    []byte
	SampleRate int
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfconsult: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfconsult: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var wavRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "doctalk base URL")
	flag.StringVar(&cfg.userID, "user-id", "perf-replay", "user_id used for the synthetic session")
	flag.IntVar(&cfg.turns, "turns", 10, "number of turns to replay")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 45, "audio chunk size in milliseconds")
	flag.Float64Var(&cfg.realtime, "realtime", 3.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.IntVar(&cfg.utteranceMS, "utterance-ms", 1500, "synthetic utterance length in milliseconds")
	flag.StringVar(&wavRaw, "wav", "", "optional comma-separated WAV files to replay instead of synthetic tones")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 180, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout per turn in milliseconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if cfg.utteranceMS < 100 {
		return options{}, fmt.Errorf("utterance-ms must be at least 100")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	for _, p := range strings.Split(wavRaw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			cfg.wavPaths = append(cfg.wavPaths, p)
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	clips, err := loadClips(cfg)
	if err != nil {
		return fmt.Errorf("prepare utterance audio: %w", err)
	}

	if cfg.verbose {
		fmt.Printf("perfconsult: session=%s turns=%d chunk_ms=%d realtime=%.2f\n", sessionID, cfg.turns, cfg.chunkMS, cfg.realtime)
	}

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := &eventChannels{
		listening: make(chan struct{}, 8),
		audio:     make(chan string, 8),
		turnEnd:   make(chan struct{}, 8),
		failed:    make(chan string, 8),
		readErr:   make(chan error, 1),
	}
	go readLoop(conn, events, cfg.verbose)

	if err := sendControl(conn, sessionID, protocol.ActionPermission, true); err != nil {
		return fmt.Errorf("send permission: %w", err)
	}

	seq := 0
	completed := 0
	for i := 0; i < cfg.turns; i++ {
		clip := clips[i%len(clips)]
		if cfg.verbose {
			fmt.Printf("perfconsult: turn %d/%d sample_rate=%dHz bytes=%d\n", i+1, cfg.turns, clip.SampleRate, len(clip.PCM16LE))
		}
		ok, err := runTurn(conn, sessionID, clip, cfg, events, &seq)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if ok {
			completed++
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	if cfg.verbose {
		fmt.Printf("perfconsult: replay completed, %d/%d turns succeeded\n", completed, cfg.turns)
	}
	return printLatency(ctx, httpClient, cfg.baseURL)
}

type eventChannels struct {
	listening chan struct{}
	audio     chan string // turn_id of the assistant audio awaiting ack
	turnEnd   chan struct{}
	failed    chan string
	readErr   chan error
}

// runTurn drives one full turn: arm listening, stream the clip, stop, ack
// the assistant audio, and wait for the playback-ended boundary. Returns
// false when the server reported a turn failure instead.
func runTurn(conn *websocket.Conn, sessionID string, clip audioClip, cfg options, events *eventChannels, seq *int) (bool, error) {
	deadline := time.NewTimer(cfg.turnTimeout)
	defer deadline.Stop()

	if err := sendControl(conn, sessionID, protocol.ActionStartListening, false); err != nil {
		return false, err
	}
	select {
	case <-events.listening:
	case err := <-events.readErr:
		return false, err
	case code := <-events.failed:
		return false, fmt.Errorf("server error before listening: %s", code)
	case <-deadline.C:
		return false, fmt.Errorf("timeout waiting for listening state")
	}

	if err := sendTurnAudio(conn, sessionID, clip, cfg.chunkMS, cfg.realtime, seq); err != nil {
		return false, fmt.Errorf("send audio: %w", err)
	}
	if err := sendControl(conn, sessionID, protocol.ActionStopListening, false); err != nil {
		return false, err
	}

	for {
		select {
		case turnID := <-events.audio:
			if err := sendPlaybackDone(conn, sessionID, turnID); err != nil {
				return false, err
			}
		case <-events.turnEnd:
			return true, nil
		case code := <-events.failed:
			if cfg.verbose {
				fmt.Fprintf(os.Stderr, "perfconsult: turn failed code=%s\n", code)
			}
			return false, nil
		case err := <-events.readErr:
			return false, err
		case <-deadline.C:
			return false, fmt.Errorf("timeout after %s", cfg.turnTimeout)
		}
	}
}

func readLoop(conn *websocket.Conn, events *eventChannels, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case events.readErr <- err:
			default:
			}
			return
		}

		var env struct {
			Type   string `json:"type"`
			TurnID string `json:"turn_id,omitempty"`
			State  string `json:"state,omitempty"`
			Phase  string `json:"phase,omitempty"`
			Code   string `json:"code,omitempty"`
			Detail string `json:"detail,omitempty"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case string(protocol.TypeStateEvent):
			if env.State == "listening" {
				select {
				case events.listening <- struct{}{}:
				default:
				}
			}
		case string(protocol.TypeAssistantAudio):
			select {
			case events.audio <- env.TurnID:
			default:
			}
		case string(protocol.TypePlaybackEvent):
			if env.Phase == "ended" {
				select {
				case events.turnEnd <- struct{}{}:
				default:
				}
			}
		case string(protocol.TypeErrorEvent):
			if verbose {
				fmt.Fprintf(os.Stderr, "perfconsult: error_event code=%s detail=%s\n", env.Code, env.Detail)
			}
			select {
			case events.failed <- env.Code:
			default:
			}
		}
	}
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	continuous := false
	payload, err := json.Marshal(map[string]any{
		"user_id":    cfg.userID,
		"continuous": continuous,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/consult/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/consult/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func printLatency(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("perf latency HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

func loadClips(cfg options) ([]audioClip, error) {
	if len(cfg.wavPaths) == 0 {
		return []audioClip{toneClip(cfg.utteranceMS, 16000)}, nil
	}
	out := make([]audioClip, 0, len(cfg.wavPaths))
	for _, path := range cfg.wavPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		pcm, sampleRate, err := audio.DecodeWAVPCM16LE(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if len(pcm) == 0 {
			return nil, fmt.Errorf("%s contains no PCM data", path)
		}
		out = append(out, audioClip{PCM16LE: pcm, SampleRate: sampleRate})
	}
	return out, nil
}

// toneClip produces a 440Hz sine utterance so synthetic turns carry non-empty
// audio even without recorded WAV input.
func toneClip(durationMS, sampleRate int) audioClip {
	samples := sampleRate * durationMS / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(12000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(v))
	}
	return audioClip{PCM16LE: pcm, SampleRate: sampleRate}
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/consult/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func sendControl(conn *websocket.Conn, sessionID, action string, granted bool) error {
	return conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sessionID,
		Action:    action,
		Granted:   granted,
	})
}

// sendPlaybackDone acks the assistant audio, echoing its turn id so the
// server can match the ack to the pending playback.
func sendPlaybackDone(conn *websocket.Conn, sessionID, turnID string) error {
	return conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sessionID,
		Action:    protocol.ActionPlaybackDone,
		TurnID:    turnID,
	})
}

func sendTurnAudio(conn *websocket.Conn, sessionID string, clip audioClip, chunkMS int, realtime float64, seq *int) error {
	sampleRate := clip.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	bytesPerChunk := sampleRate * 2 * chunkMS / 1000
	if bytesPerChunk < 2 {
		bytesPerChunk = 2
	}
	if bytesPerChunk%2 != 0 {
		bytesPerChunk++
	}
	if bytesPerChunk > len(clip.PCM16LE) {
		bytesPerChunk = len(clip.PCM16LE)
		if bytesPerChunk%2 != 0 {
			bytesPerChunk--
		}
	}
	if bytesPerChunk <= 0 {
		return fmt.Errorf("invalid chunk size for sample_rate=%d", sampleRate)
	}

	for off := 0; off < len(clip.PCM16LE); {
		end := off + bytesPerChunk
		if end > len(clip.PCM16LE) {
			end = len(clip.PCM16LE)
		}
		if (end-off)%2 != 0 {
			end--
		}
		if end <= off {
			break
		}
		chunkBytes := end - off
		*seq = *seq + 1
		msg := protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			SessionID:   sessionID,
			Seq:         *seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(clip.PCM16LE[off:end]),
			SampleRate:  sampleRate,
			TSMs:        time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		off = end

		chunkDuration := time.Duration(float64(time.Duration(chunkBytes)*time.Second/time.Duration(sampleRate*2)) / realtime)
		if chunkDuration <= 0 {
			chunkDuration = 10 * time.Millisecond
		}
		time.Sleep(chunkDuration)
	}
	return nil
}
