package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/mindscreen/backend/internal/config"
)

// ErrVolcengineCredentials 表示缺少火山引擎语音的 AppID 或 AccessToken。
var ErrVolcengineCredentials = errors.New("volcengine speech requires SPEECH_APP_ID and SPEECH_ACCESS_TOKEN")

const (
	// 16kHz 16bit 单声道 200ms
	volcChunkBytes    = 6400
	volcChunkInterval = 200 * time.Millisecond

	volcASROK            = 20000000
	volcTTSOK            = 3000
	volcResourceMismatch = "resource ID is mismatched with speaker related resource"
)

func volcHeader(cfg config.VolcengineConfig, resourceID, connectID string) (http.Header, error) {
	if !cfg.Enabled() {
		return nil, ErrVolcengineCredentials
	}
	header := http.Header{}
	header.Set("X-Api-App-Key", cfg.AppID)
	header.Set("X-Api-Access-Key", cfg.AccessToken)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)
	return header, nil
}

func newVolcDialer(timeout time.Duration) *websocket.Dialer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &websocket.Dialer{HandshakeTimeout: timeout}
}

// VolcengineTranscriber 通过火山引擎大模型流式识别接口转写 WAV 文件。
type VolcengineTranscriber struct {
	cfg           config.VolcengineConfig
	dialer        *websocket.Dialer
	chunkInterval time.Duration
	log           *logrus.Entry
}

func NewVolcengineTranscriber(cfg config.VolcengineConfig, timeout time.Duration) *VolcengineTranscriber {
	return &VolcengineTranscriber{
		cfg:           cfg,
		dialer:        newVolcDialer(timeout),
		chunkInterval: volcChunkInterval,
		log:           logrus.WithField("component", "volcengine-asr"),
	}
}

type volcASRRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type volcASRResult struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Result   struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text string `json:"text"`
		} `json:"utterances,omitempty"`
	} `json:"result"`
}

func (r volcASRResult) text() string {
	if r.Result.Text != "" || len(r.Result.Utterances) == 0 {
		return r.Result.Text
	}
	parts := make([]string, 0, len(r.Result.Utterances))
	for _, u := range r.Result.Utterances {
		parts = append(parts, u.Text)
	}
	return strings.Join(parts, " ")
}

func (t *VolcengineTranscriber) buildRequest(uid string) volcASRRequest {
	var req volcASRRequest
	req.User.UID = uid
	req.Audio.Format = "wav"
	req.Audio.Language = t.cfg.ASRLanguage
	req.Audio.Codec = "raw"
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1
	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ShowUtterances = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800
	return req
}

// Transcribe 发送完整请求后分包上传音频，同时接收识别结果直到最后一包。
func (t *VolcengineTranscriber) Transcribe(ctx context.Context, wavPath string) (string, error) {
	audio, err := os.ReadFile(wavPath)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return "", ErrAudioEmpty
	}

	connectID := uuid.NewString()
	header, err := volcHeader(t.cfg, t.cfg.ASRResource, connectID)
	if err != nil {
		return "", err
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.cfg.ASRURL, header)
	if err != nil {
		return "", fmt.Errorf("asr dial: %w", err)
	}
	defer conn.Close()
	if resp != nil {
		t.log.WithField("logid", resp.Header.Get("X-Tt-Logid")).Debug("asr connected")
	}

	payload, err := json.Marshal(t.buildRequest(connectID))
	if err != nil {
		return "", fmt.Errorf("marshal asr request: %w", err)
	}
	if payload, err = gzipBytes(payload); err != nil {
		return "", err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, newVolcRequest(payload, volcCompressGzip).marshal()); err != nil {
		return "", fmt.Errorf("send asr request: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	// 任一方失败时关闭连接，解除另一方的阻塞读写。
	stop := context.AfterFunc(gctx, func() { _ = conn.Close() })
	defer stop()

	var text string
	g.Go(func() error {
		return t.sendAudio(gctx, conn, audio)
	})
	g.Go(func() error {
		var err error
		text, err = t.receive(conn)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return text, nil
}

func (t *VolcengineTranscriber) sendAudio(ctx context.Context, conn *websocket.Conn, audio []byte) error {
	// 序号 1 被完整请求占用，音频从 2 开始。
	sequence := int32(2)
	for start := 0; start < len(audio); start += volcChunkBytes {
		end := min(start+volcChunkBytes, len(audio))
		last := end == len(audio)

		chunk, err := gzipBytes(audio[start:end])
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, newVolcAudio(chunk, sequence, last).marshal()); err != nil {
			return fmt.Errorf("send audio chunk %d: %w", sequence, err)
		}
		sequence++
		if last {
			return nil
		}

		if t.chunkInterval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.chunkInterval):
			}
		}
	}
	return nil
}

func (t *VolcengineTranscriber) receive(conn *websocket.Conn) (string, error) {
	var text string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("read asr response: %w", err)
		}
		frame, err := parseVolcFrame(data)
		if err != nil {
			return "", fmt.Errorf("decode asr frame: %w", err)
		}

		switch frame.msgType {
		case volcErrorMessage:
			return "", volcError("asr", frame)
		case volcFullServerResponse:
			body, err := frame.body()
			if err != nil {
				return "", fmt.Errorf("decompress asr payload: %w", err)
			}
			var result volcASRResult
			if err := json.Unmarshal(body, &result); err != nil {
				t.log.WithError(err).Warn("skipping undecodable asr payload")
				continue
			}
			if result.Code != 0 && result.Code != volcASROK {
				return "", fmt.Errorf("asr api error %d: %s", result.Code, result.Message)
			}
			if candidate := result.text(); candidate != "" {
				text = candidate
			}
			if frame.last() || result.Sequence < 0 {
				return text, nil
			}
		}
	}
}

func volcError(kind string, frame *volcFrame) error {
	body, err := frame.body()
	if err != nil {
		return fmt.Errorf("%s error %d (undecodable payload): %w", kind, frame.errorCode, err)
	}
	return fmt.Errorf("%s error %d: %s", kind, frame.errorCode, strings.TrimSpace(string(body)))
}

// VolcengineSynthesizer 通过火山引擎单向流式接口合成语音。
type VolcengineSynthesizer struct {
	cfg    config.VolcengineConfig
	dialer *websocket.Dialer
	log    *logrus.Entry
}

func NewVolcengineSynthesizer(cfg config.VolcengineConfig, timeout time.Duration) *VolcengineSynthesizer {
	return &VolcengineSynthesizer{
		cfg:    cfg,
		dialer: newVolcDialer(timeout),
		log:    logrus.WithField("component", "volcengine-tts"),
	}
}

type volcTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string `json:"speaker"`
		Text        string `json:"text"`
		Language    string `json:"language,omitempty"`
		AudioParams struct {
			Format     string `json:"format"`
			SampleRate int    `json:"sample_rate"`
		} `json:"audio_params"`
	} `json:"req_params"`
}

type volcTTSResult struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

// Synthesize 按音色与资源候选依次尝试，资源不匹配时换下一个候选。
func (s *VolcengineSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("tts text is empty")
	}

	var lastErr error
	for _, speaker := range volcSpeakers(s.cfg.TTSVoice) {
		for _, resourceID := range volcResources(speaker) {
			audio, err := s.synthesizeWith(ctx, text, speaker, resourceID)
			if err == nil {
				return audio, nil
			}
			if !strings.Contains(err.Error(), volcResourceMismatch) {
				return nil, err
			}
			s.log.WithFields(logrus.Fields{"speaker": speaker, "resource": resourceID}).Warn("tts resource mismatch, trying next candidate")
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("tts: no speaker candidates")
	}
	return nil, lastErr
}

func (s *VolcengineSynthesizer) synthesizeWith(ctx context.Context, text, speaker, resourceID string) ([]byte, error) {
	connectID := uuid.NewString()
	header, err := volcHeader(s.cfg, resourceID, connectID)
	if err != nil {
		return nil, err
	}

	conn, _, err := s.dialer.DialContext(ctx, s.cfg.TTSURL, header)
	if err != nil {
		return nil, fmt.Errorf("tts dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var req volcTTSRequest
	req.User.UID = connectID
	req.ReqParams.Speaker = speaker
	req.ReqParams.Text = text
	req.ReqParams.Language = s.cfg.TTSLanguage
	req.ReqParams.AudioParams.Format = volcEncoding(s.cfg.TTSEncoding)
	req.ReqParams.AudioParams.SampleRate = 24000

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, newVolcRequest(payload, volcCompressNone).marshal()); err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	var audio bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read tts response: %w", err)
		}
		frame, err := parseVolcFrame(data)
		if err != nil {
			return nil, fmt.Errorf("decode tts frame: %w", err)
		}

		switch frame.msgType {
		case volcErrorMessage:
			return nil, volcError("tts", frame)
		case volcAudioOnlyResponse:
			chunk, err := frame.body()
			if err != nil {
				return nil, fmt.Errorf("decompress tts audio: %w", err)
			}
			audio.Write(chunk)
			if frame.last() {
				return audio.Bytes(), nil
			}
		case volcFullServerResponse:
			body, err := frame.body()
			if err != nil {
				return nil, fmt.Errorf("decompress tts payload: %w", err)
			}
			var result volcTTSResult
			if len(body) > 0 {
				if err := json.Unmarshal(body, &result); err != nil {
					s.log.WithError(err).Warn("skipping undecodable tts payload")
				} else {
					if result.Code != 0 && result.Code != volcTTSOK {
						return nil, fmt.Errorf("tts api error %d: %s", result.Code, result.Message)
					}
					if result.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(result.Data)
						if err != nil {
							return nil, fmt.Errorf("decode tts audio: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := frame.hasEvent() && frame.event == volcEventSessionFinished
			if finished || frame.last() || result.Sequence < 0 {
				if audio.Len() == 0 {
					return nil, errors.New("tts audio is empty")
				}
				return audio.Bytes(), nil
			}
		default:
			s.log.WithField("type", frame.msgType).Debug("ignoring tts frame")
		}
	}
}

// 单向流式接口不支持 wav，回退为 mp3。
func volcEncoding(encoding string) string {
	switch encoding = strings.ToLower(strings.TrimSpace(encoding)); encoding {
	case "", "wav":
		return "mp3"
	default:
		return encoding
	}
}

// volcSpeakers 返回配置音色及英文默认音色，去重且忽略大小写。
func volcSpeakers(voice string) []string {
	const fallback = "en_female_amy_jupiter_bigtts"

	var out []string
	for _, candidate := range []string{voice, fallback} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		dup := false
		for _, existing := range out {
			if strings.EqualFold(existing, candidate) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, candidate)
		}
	}
	return out
}

// volcResources 根据音色推断资源 ID：复刻音色用 megatts，大模型音色优先 seed-tts。
func volcResources(speaker string) []string {
	const (
		standard = "volc.service_type.10029"
		mega     = "volc.megatts.default"
		seed     = "seed-tts-2.0"
	)

	if strings.HasPrefix(speaker, "S_") {
		return []string{mega}
	}
	normalized := strings.ToLower(speaker)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seed, standard}
		}
	}
	return []string{standard, seed}
}
