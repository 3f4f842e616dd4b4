package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	server    string
	sessionID string
	timeout   time.Duration
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("无法加载 .env，改用系统环境变量")
	}

	if err := newRootCommand().Execute(); err != nil {
		logrus.WithError(err).Fatal("screentester failed")
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "screentester",
		Short:         "手动联调抑郁筛查后端的语音、视频与融合接口",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if opts.sessionID == "" {
				opts.sessionID = "manual-" + uuid.NewString()
			}
			logrus.WithField("session_id", opts.sessionID).Info("using session")
		},
	}

	defaultServer := os.Getenv("SCREENTESTER_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8000"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "后端地址")
	root.PersistentFlags().StringVar(&opts.sessionID, "session", "", "会话 ID，留空则自动生成")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 45*time.Second, "单次请求超时时间")

	root.AddCommand(
		newVoiceCommand(opts),
		newVideoCommand(opts),
		newResultsCommand(opts),
		newScreeningCommand(opts),
	)
	return root
}

func newVoiceCommand(opts *options) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "voice <file.wav>",
		Short: "通过语音 WebSocket 发送一段 WAV 录音",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audio, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read audio: %w", err)
			}

			conn, err := dial(cmd.Context(), opts, "/api/voice/ws/conversation/"+opts.sessionID)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.WriteJSON(map[string]string{
				"type":  "audio",
				"audio": base64.StdEncoding.EncodeToString(audio),
			}); err != nil {
				return fmt.Errorf("send audio: %w", err)
			}

			_ = conn.SetReadDeadline(time.Now().Add(opts.timeout))
			var reply map[string]any
			if err := conn.ReadJSON(&reply); err != nil {
				return fmt.Errorf("read reply: %w", err)
			}

			if encoded, ok := reply["audio_response"].(string); ok && encoded != "" {
				reply["audio_response"] = fmt.Sprintf("<%d base64 chars>", len(encoded))
				if out != "" {
					if err := saveAudio(out, encoded); err != nil {
						return err
					}
					logrus.WithField("path", out).Info("saved synthesized reply")
				}
			}
			return printJSON(reply)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "保存合成语音的 WAV 路径")
	return cmd
}

func newVideoCommand(opts *options) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "video <frame> [frame...]",
		Short: "通过视频 WebSocket 依次发送图像帧",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial(cmd.Context(), opts, "/api/video/ws/video/"+opts.sessionID)
			if err != nil {
				return err
			}
			defer conn.Close()

			for i, path := range args {
				frame, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read frame %s: %w", path, err)
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					return fmt.Errorf("send frame %s: %w", path, err)
				}

				_ = conn.SetReadDeadline(time.Now().Add(opts.timeout))
				var reply map[string]any
				if err := conn.ReadJSON(&reply); err != nil {
					return fmt.Errorf("read reply: %w", err)
				}
				logrus.WithFields(logrus.Fields{"frame": filepath.Base(path), "reply": reply}).Info("frame analysed")

				if interval > 0 && i < len(args)-1 {
					time.Sleep(interval)
				}
			}

			// 关闭连接会清空服务端会话，先取汇总结果
			return fetchAndPrint(cmd.Context(), opts, "/api/video/results/"+opts.sessionID)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 200*time.Millisecond, "帧间隔")
	return cmd
}

func newResultsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "查询视频会话汇总结果",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fetchAndPrint(cmd.Context(), opts, "/api/video/results/"+opts.sessionID)
		},
	}
}

func newScreeningCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "screening",
		Short: "查询语音与视频的融合抑郁评分",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fetchAndPrint(cmd.Context(), opts, "/api/screening/"+opts.sessionID)
		},
	}
}

func dial(ctx context.Context, opts *options, path string) (*websocket.Conn, error) {
	base, err := url.Parse(opts.server)
	if err != nil {
		return nil, fmt.Errorf("invalid server %q: %w", opts.server, err)
	}
	switch base.Scheme {
	case "https":
		base.Scheme = "wss"
	default:
		base.Scheme = "ws"
	}
	base.Path = strings.TrimRight(base.Path, "/") + path

	dialer := websocket.Dialer{HandshakeTimeout: opts.timeout}
	conn, _, err := dialer.DialContext(ctx, base.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", base.String(), err)
	}
	return conn, nil
}

func fetchAndPrint(ctx context.Context, opts *options, path string) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(opts.server, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return printJSON(payload)
}

func saveAudio(path, encoded string) error {
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode audio_response: %w", err)
	}
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
