package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/mindscreen/backend/internal/config"
)

var volcUpgrader = websocket.Upgrader{}

func volcTestConfig(url string) config.VolcengineConfig {
	return config.VolcengineConfig{
		AppID:       "app-1",
		AccessToken: "token-1",
		ASRURL:      url,
		ASRResource: "volc.bigasr.sauc.duration",
		ASRLanguage: "en-US",
		TTSURL:      url,
		TTSVoice:    "en_female_amy_jupiter_bigtts",
		TTSLanguage: "en-US",
		TTSEncoding: "mp3",
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readVolcFrame(t *testing.T, conn *websocket.Conn) (*volcFrame, bool) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	frame, err := parseVolcFrame(data)
	if !assert.NoError(t, err) {
		return nil, false
	}
	return frame, true
}

func writeVolcFrame(t *testing.T, conn *websocket.Conn, frame *volcFrame) {
	assert.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame.marshal()))
}

// drain 读到客户端关闭为止。
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestVolcFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame *volcFrame
	}{
		{name: "request", frame: newVolcRequest([]byte(`{"a":1}`), volcCompressNone)},
		{name: "audio chunk", frame: newVolcAudio([]byte("pcm"), 3, false)},
		{name: "last audio chunk", frame: newVolcAudio([]byte("pcm"), 7, true)},
		{name: "error", frame: &volcFrame{msgType: volcErrorMessage, errorCode: 45000001, payload: []byte("bad")}},
		{name: "session event", frame: &volcFrame{
			msgType: volcFullServerResponse, flags: volcWithEvent, serialization: volcSerialJSON,
			event: volcEventSessionFinished, sessionID: "sess-1", payload: []byte("{}"),
		}},
		{name: "connection event", frame: &volcFrame{
			msgType: volcFullServerResponse, flags: volcWithEvent, serialization: volcSerialJSON,
			event: volcEventConnectionStarted, connectID: "conn-1", payload: []byte("{}"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVolcFrame(tt.frame.marshal())
			require.NoError(t, err)
			assert.Equal(t, tt.frame, got)
		})
	}

	last := newVolcAudio(nil, 7, true)
	assert.Equal(t, int32(-7), last.sequence)
	assert.True(t, last.last())

	_, err := parseVolcFrame([]byte{0x11})
	assert.ErrorIs(t, err, errVolcFrameTooShort)
}

func TestVolcengineTranscriberRoundTrip(t *testing.T) {
	wavPath := writeWAV(t, t.TempDir(), time.Second)

	var (
		mu       sync.Mutex
		header   http.Header
		request  volcASRRequest
		received int
		finalSeq int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := volcUpgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		mu.Lock()
		header = r.Header.Clone()
		mu.Unlock()

		first, ok := readVolcFrame(t, conn)
		if !ok {
			return
		}
		body, err := first.body()
		assert.NoError(t, err)
		mu.Lock()
		assert.NoError(t, json.Unmarshal(body, &request))
		mu.Unlock()

		for {
			frame, ok := readVolcFrame(t, conn)
			if !ok {
				return
			}
			chunk, err := frame.body()
			assert.NoError(t, err)
			mu.Lock()
			received += len(chunk)
			finalSeq = frame.sequence
			mu.Unlock()
			if frame.last() {
				break
			}
		}

		partial, _ := gzipBytes([]byte(`{"code":0,"sequence":5,"result":{"text":"i have"}}`))
		writeVolcFrame(t, conn, &volcFrame{
			msgType: volcFullServerResponse, flags: volcPositiveSequence, sequence: 5,
			serialization: volcSerialJSON, compression: volcCompressGzip, payload: partial,
		})
		final, _ := gzipBytes([]byte(`{"code":20000000,"sequence":-6,"result":{"utterances":[{"text":"i have"},{"text":"been sleeping badly"}]}}`))
		writeVolcFrame(t, conn, &volcFrame{
			msgType: volcFullServerResponse, flags: volcNegativeSequence, sequence: -6,
			serialization: volcSerialJSON, compression: volcCompressGzip, payload: final,
		})
		drain(conn)
	}))
	defer srv.Close()

	stt := NewVolcengineTranscriber(volcTestConfig(wsURL(srv)), 5*time.Second)
	stt.chunkInterval = 0

	text, err := stt.Transcribe(context.Background(), wavPath)
	require.NoError(t, err)
	assert.Equal(t, "i have been sleeping badly", text)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "app-1", header.Get("X-Api-App-Key"))
	assert.Equal(t, "token-1", header.Get("X-Api-Access-Key"))
	assert.Equal(t, "volc.bigasr.sauc.duration", header.Get("X-Api-Resource-Id"))
	assert.NotEmpty(t, header.Get("X-Api-Connect-Id"))
	assert.Equal(t, "wav", request.Audio.Format)
	assert.Equal(t, 16000, request.Audio.Rate)
	assert.Equal(t, "en-US", request.Audio.Language)
	assert.Equal(t, "bigmodel", request.Request.ModelName)
	// 1s 16kHz 16bit 单声道 = 32000 字节 PCM + 44 字节头，分 6 包，序号 2..7。
	assert.Equal(t, 32044, received)
	assert.Equal(t, int32(-7), finalSeq)
}

func TestVolcengineTranscriberErrorFrame(t *testing.T) {
	wavPath := writeWAV(t, t.TempDir(), time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := volcUpgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		if _, ok := readVolcFrame(t, conn); !ok {
			return
		}
		writeVolcFrame(t, conn, &volcFrame{msgType: volcErrorMessage, errorCode: 45000001, payload: []byte("invalid audio format")})
		drain(conn)
	}))
	defer srv.Close()

	stt := NewVolcengineTranscriber(volcTestConfig(wsURL(srv)), 5*time.Second)
	stt.chunkInterval = 0

	_, err := stt.Transcribe(context.Background(), wavPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "45000001")
	assert.Contains(t, err.Error(), "invalid audio format")
}

func TestVolcengineSynthesizerRoundTrip(t *testing.T) {
	var (
		mu       sync.Mutex
		request  volcTTSRequest
		resource string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := volcUpgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		first, ok := readVolcFrame(t, conn)
		if !ok {
			return
		}
		mu.Lock()
		resource = r.Header.Get("X-Api-Resource-Id")
		assert.NoError(t, json.Unmarshal(first.payload, &request))
		mu.Unlock()

		writeVolcFrame(t, conn, &volcFrame{msgType: volcAudioOnlyResponse, payload: []byte("ID3")})
		writeVolcFrame(t, conn, &volcFrame{msgType: volcAudioOnlyResponse, payload: []byte("-mp3")})
		writeVolcFrame(t, conn, &volcFrame{
			msgType: volcFullServerResponse, flags: volcWithEvent, serialization: volcSerialJSON,
			event: volcEventSessionFinished, sessionID: "sess-1", payload: []byte(`{"code":3000}`),
		})
		drain(conn)
	}))
	defer srv.Close()

	cfg := volcTestConfig(wsURL(srv))
	cfg.TTSEncoding = "wav"
	audio, err := NewVolcengineSynthesizer(cfg, 5*time.Second).Synthesize(context.Background(), "Thank you for sharing.")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-mp3"), audio)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "seed-tts-2.0", resource)
	assert.Equal(t, "en_female_amy_jupiter_bigtts", request.ReqParams.Speaker)
	assert.Equal(t, "Thank you for sharing.", request.ReqParams.Text)
	assert.Equal(t, "mp3", request.ReqParams.AudioParams.Format)
	assert.Equal(t, 24000, request.ReqParams.AudioParams.SampleRate)
}

func TestVolcengineSynthesizerResourceFallback(t *testing.T) {
	var (
		mu    sync.Mutex
		tried []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := volcUpgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		if _, ok := readVolcFrame(t, conn); !ok {
			return
		}

		resourceID := r.Header.Get("X-Api-Resource-Id")
		mu.Lock()
		tried = append(tried, resourceID)
		mu.Unlock()

		if resourceID == "seed-tts-2.0" {
			writeVolcFrame(t, conn, &volcFrame{
				msgType: volcErrorMessage, errorCode: 45000000,
				payload: []byte(`{"error":"resource ID is mismatched with speaker related resource"}`),
			})
		} else {
			writeVolcFrame(t, conn, &volcFrame{msgType: volcAudioOnlyResponse, flags: volcLastNoSequence, payload: []byte("audio")})
		}
		drain(conn)
	}))
	defer srv.Close()

	audio, err := NewVolcengineSynthesizer(volcTestConfig(wsURL(srv)), 5*time.Second).Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), audio)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"seed-tts-2.0", "volc.service_type.10029"}, tried)
}

func TestVolcengineSynthesizerEmptyAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := volcUpgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		if _, ok := readVolcFrame(t, conn); !ok {
			return
		}
		writeVolcFrame(t, conn, &volcFrame{msgType: volcFullServerResponse, flags: volcLastNoSequence, serialization: volcSerialJSON, payload: []byte(`{"code":0}`)})
		drain(conn)
	}))
	defer srv.Close()

	_, err := NewVolcengineSynthesizer(volcTestConfig(wsURL(srv)), 5*time.Second).Synthesize(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestVolcResources(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		want  []string
	}{
		{name: "legacy voice", voice: "en_male_adam", want: []string{"volc.service_type.10029", "seed-tts-2.0"}},
		{name: "mega clone voice", voice: "S_clone_speaker", want: []string{"volc.megatts.default"}},
		{name: "bigtts voice", voice: "en_female_amy_jupiter_bigtts", want: []string{"seed-tts-2.0", "volc.service_type.10029"}},
	}

	for _, tt := range tests {
		if got := volcResources(tt.voice); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: volcResources(%q) = %v, want %v", tt.name, tt.voice, got, tt.want)
		}
	}
}

func TestVolcSpeakers(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		want  []string
	}{
		{name: "configured voice first", voice: "en_male_adam", want: []string{"en_male_adam", "en_female_amy_jupiter_bigtts"}},
		{name: "empty voice", voice: "  ", want: []string{"en_female_amy_jupiter_bigtts"}},
		{name: "duplicates ignored", voice: "EN_female_amy_jupiter_bigtts", want: []string{"EN_female_amy_jupiter_bigtts"}},
	}

	for _, tt := range tests {
		if got := volcSpeakers(tt.voice); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: volcSpeakers(%q) = %v, want %v", tt.name, tt.voice, got, tt.want)
		}
	}
}

func TestNewServiceFromConfigVolcengine(t *testing.T) {
	cfg := config.SpeechConfig{
		STTProvider: config.BackendVolcengine,
		TTSProvider: config.BackendSidecar,
		TTSURL:      "http://localhost:8600",
		Timeout:     time.Second,
	}

	_, err := NewServiceFromConfig(cfg)
	assert.True(t, errors.Is(err, ErrVolcengineCredentials), "got %v", err)

	cfg.Volcengine = volcTestConfig("ws://localhost:1")
	svc, err := NewServiceFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &VolcengineTranscriber{}, svc.transcriber)
	assert.IsType(t, &SidecarSynthesizer{}, svc.synthesizer)
}
