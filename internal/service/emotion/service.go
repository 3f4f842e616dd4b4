package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	analysis "github.com/zhouzirui/mindscreen/backend/internal/analysis/emotion"
)

// ErrClassifierUnavailable 表示表情识别服务不可达或返回异常。
var ErrClassifierUnavailable = errors.New("emotion classifier unavailable")

// Classifier 将一帧图像映射为情绪标签。
type Classifier interface {
	Classify(ctx context.Context, frame []byte) (Detection, error)
}

// Config 控制表情识别服务的访问方式。
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Face 是识别服务返回的单张人脸。
type Face struct {
	Emotion    string    `json:"emotion"`
	Box        []float64 `json:"box"`
	Confidence float64   `json:"confidence"`
}

type detectResponse struct {
	Faces []Face `json:"faces"`
}

// Detection 是一帧的分类结果。
type Detection struct {
	Label     analysis.Label
	Faces     int
	Certainty float64
}

// Service 通过 HTTP 调用推理侧车完成人脸检测与表情分类。
type Service struct {
	baseURL string
	client  *http.Client
	log     *logrus.Entry
}

// NewService 创建表情识别客户端。
func NewService(cfg Config) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Service{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		log:     logrus.WithField("component", "emotion"),
	}
}

// Classify 上传 JPEG 帧并解析结果。未检测到人脸时返回 neutral，
// 多张人脸时只取检测顺序中的第一张。
func (s *Service) Classify(ctx context.Context, frame []byte) (Detection, error) {
	faces, err := s.detect(ctx, frame)
	if err != nil {
		return Detection{}, err
	}
	return pickFirstFace(faces), nil
}

func pickFirstFace(faces []Face) Detection {
	if len(faces) == 0 {
		return Detection{Label: analysis.Neutral}
	}

	label, ok := analysis.Parse(faces[0].Emotion)
	if !ok {
		// 未知标签按 neutral 记录，与无人脸时一致。
		label = analysis.Neutral
	}
	return Detection{Label: label, Faces: len(faces), Certainty: faces[0].Confidence}
}

func (s *Service) detect(ctx context.Context, frame []byte) ([]Face, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fw, err := w.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err = fw.Write(frame); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/detect", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: %s: %s", ErrClassifierUnavailable, resp.Status, bytes.TrimSpace(msg))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("emotion decode: %w", err)
	}
	s.log.WithField("faces", len(out.Faces)).Debug("frame classified")
	return out.Faces, nil
}
