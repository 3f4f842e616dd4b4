package speech

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// WAV 校验失败的原因。
var (
	ErrAudioMissing  = errors.New("audio file does not exist")
	ErrAudioEmpty    = errors.New("audio file is empty")
	ErrInvalidWAV    = errors.New("invalid WAV file")
	ErrAudioTooShort = errors.New("audio too short")
	ErrAudioTooLong  = errors.New("audio too long")
	ErrNoSpeech      = errors.New("no speech detected")
)

// ValidateWAV 检查文件存在、非空、为合法 WAV 且时长在 [minDuration, maxDuration] 内。
// maxDuration 为 0 表示不限制上限。返回值为检测到的时长。
func ValidateWAV(path string, minDuration, maxDuration time.Duration) (time.Duration, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrAudioMissing
		}
		return 0, fmt.Errorf("stat audio file: %w", err)
	}
	if info.Size() == 0 {
		return 0, ErrAudioEmpty
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return 0, ErrInvalidWAV
	}
	// 时长只按 data 块计算，LIST 等元数据块不计入。
	if err := decoder.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	bytesPerSecond := int64(decoder.SampleRate) * int64(decoder.NumChans) * int64(decoder.BitDepth) / 8
	if bytesPerSecond == 0 {
		return 0, ErrInvalidWAV
	}
	duration := time.Duration(decoder.PCMLen() * int64(time.Second) / bytesPerSecond)

	if duration < minDuration {
		return duration, fmt.Errorf("%w: %.2fs", ErrAudioTooShort, duration.Seconds())
	}
	if maxDuration > 0 && duration > maxDuration {
		return duration, fmt.Errorf("%w: %.2fs", ErrAudioTooLong, duration.Seconds())
	}
	return duration, nil
}

// IsSoftFailure 判断错误是否属于输入问题，而非后端故障。
func IsSoftFailure(err error) bool {
	for _, target := range []error{ErrAudioMissing, ErrAudioEmpty, ErrInvalidWAV, ErrAudioTooShort, ErrAudioTooLong, ErrNoSpeech} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
