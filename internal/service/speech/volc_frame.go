package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// 火山引擎语音 WebSocket 二进制帧：4 字节头 + 可选序号/事件 + payload。
const volcProtocolVersion = 0b0001

type volcMsgType uint8

const (
	volcFullClientRequest  volcMsgType = 0b0001
	volcAudioOnlyRequest   volcMsgType = 0b0010
	volcFullServerResponse volcMsgType = 0b1001
	volcAudioOnlyResponse  volcMsgType = 0b1011
	volcErrorMessage       volcMsgType = 0b1111
)

type volcFlags uint8

const (
	volcNoSequence       volcFlags = 0b0000
	volcPositiveSequence volcFlags = 0b0001
	volcLastNoSequence   volcFlags = 0b0010
	volcNegativeSequence volcFlags = 0b0011
	volcWithEvent        volcFlags = 0b0100
)

const (
	volcSerialNone uint8 = 0b0000
	volcSerialJSON uint8 = 0b0001

	volcCompressNone uint8 = 0b0000
	volcCompressGzip uint8 = 0b0001
)

// 服务端事件编号。连接级事件不带 session id，且携带 connect id。
const (
	volcEventStartConnection    int32 = 1
	volcEventFinishConnection   int32 = 2
	volcEventConnectionStarted  int32 = 50
	volcEventConnectionFailed   int32 = 51
	volcEventConnectionFinished int32 = 52
	volcEventSessionFinished    int32 = 152
)

var errVolcFrameTooShort = errors.New("volcengine frame too short")

type volcFrame struct {
	msgType       volcMsgType
	flags         volcFlags
	serialization uint8
	compression   uint8
	sequence      int32
	event         int32
	sessionID     string
	connectID     string
	errorCode     uint32
	payload       []byte
}

func newVolcRequest(payload []byte, compression uint8) *volcFrame {
	return &volcFrame{
		msgType:       volcFullClientRequest,
		flags:         volcNoSequence,
		serialization: volcSerialJSON,
		compression:   compression,
		payload:       payload,
	}
}

// newVolcAudio 构造音频分包，最后一包使用负序号。
func newVolcAudio(chunk []byte, sequence int32, last bool) *volcFrame {
	f := &volcFrame{
		msgType:       volcAudioOnlyRequest,
		serialization: volcSerialNone,
		compression:   volcCompressGzip,
		sequence:      sequence,
		payload:       chunk,
	}
	switch {
	case last && sequence != 0:
		f.flags = volcNegativeSequence
		f.sequence = -sequence
	case last:
		f.flags = volcLastNoSequence
	case sequence > 0:
		f.flags = volcPositiveSequence
	default:
		f.flags = volcNoSequence
	}
	return f
}

func (f *volcFrame) hasSequence() bool {
	switch f.flags & 0b0011 {
	case volcPositiveSequence, volcNegativeSequence:
		return true
	}
	return false
}

func (f *volcFrame) hasEvent() bool {
	return f.flags&volcWithEvent == volcWithEvent
}

func (f *volcFrame) last() bool {
	switch f.flags & 0b0011 {
	case volcLastNoSequence, volcNegativeSequence:
		return true
	}
	return false
}

func connectionEvent(event int32) bool {
	switch event {
	case volcEventStartConnection, volcEventFinishConnection,
		volcEventConnectionStarted, volcEventConnectionFailed, volcEventConnectionFinished:
		return true
	}
	return false
}

func carriesConnectID(event int32) bool {
	switch event {
	case volcEventConnectionStarted, volcEventConnectionFailed, volcEventConnectionFinished:
		return true
	}
	return false
}

func (f *volcFrame) marshal() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{
		volcProtocolVersion<<4 | 0b0001,
		uint8(f.msgType)<<4 | uint8(f.flags),
		f.serialization<<4 | f.compression,
		0,
	})

	putU32 := func(v uint32) {
		_ = binary.Write(&buf, binary.BigEndian, v)
	}
	putString := func(s string) {
		putU32(uint32(len(s)))
		buf.WriteString(s)
	}

	if f.hasSequence() {
		putU32(uint32(f.sequence))
	}
	if f.hasEvent() {
		putU32(uint32(f.event))
		if !connectionEvent(f.event) {
			putString(f.sessionID)
		}
		if carriesConnectID(f.event) {
			putString(f.connectID)
		}
	}
	if f.msgType == volcErrorMessage {
		putU32(f.errorCode)
	}
	putU32(uint32(len(f.payload)))
	buf.Write(f.payload)
	return buf.Bytes()
}

func parseVolcFrame(data []byte) (*volcFrame, error) {
	if len(data) < 4 {
		return nil, errVolcFrameTooShort
	}
	if version := data[0] >> 4; version != volcProtocolVersion {
		return nil, fmt.Errorf("unsupported volcengine protocol version %d", version)
	}

	f := &volcFrame{
		msgType:       volcMsgType(data[1] >> 4),
		flags:         volcFlags(data[1] & 0x0F),
		serialization: data[2] >> 4,
		compression:   data[2] & 0x0F,
	}

	headerSize := int(data[0]&0x0F) * 4
	if headerSize < 4 || len(data) < headerSize {
		return nil, errVolcFrameTooShort
	}
	r := bytes.NewReader(data[headerSize:])

	readU32 := func(field string) (uint32, error) {
		var v uint32
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return 0, fmt.Errorf("read %s: %w", field, err)
		}
		return v, nil
	}
	readString := func(field string) (string, error) {
		size, err := readU32(field + " size")
		if err != nil {
			return "", err
		}
		b := make([]byte, size)
		if _, err := io.ReadFull(r, b); err != nil {
			return "", fmt.Errorf("read %s: %w", field, err)
		}
		return string(b), nil
	}

	if f.hasSequence() {
		seq, err := readU32("sequence")
		if err != nil {
			return nil, err
		}
		f.sequence = int32(seq)
	}
	if f.hasEvent() {
		event, err := readU32("event")
		if err != nil {
			return nil, err
		}
		f.event = int32(event)
		if !connectionEvent(f.event) {
			if f.sessionID, err = readString("session id"); err != nil {
				return nil, err
			}
		}
		if carriesConnectID(f.event) {
			if f.connectID, err = readString("connect id"); err != nil {
				return nil, err
			}
		}
	}
	if f.msgType == volcErrorMessage {
		code, err := readU32("error code")
		if err != nil {
			return nil, err
		}
		f.errorCode = code
	}

	size, err := readU32("payload size")
	if err != nil {
		return nil, err
	}
	f.payload = make([]byte, size)
	if _, err := io.ReadFull(r, f.payload); err != nil {
		return nil, fmt.Errorf("read payload (%d bytes): %w", size, err)
	}
	return f, nil
}

// body 返回解压后的 payload。
func (f *volcFrame) body() ([]byte, error) {
	switch f.compression {
	case volcCompressNone:
		return f.payload, nil
	case volcCompressGzip:
		return gunzipBytes(f.payload)
	default:
		return nil, fmt.Errorf("unsupported volcengine compression %d", f.compression)
	}
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}
