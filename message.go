package realtime

import "fmt"

// FrameType mirrors the websocket frame kinds the transport cares about.
type FrameType byte

const (
	TextFrame   FrameType = 1
	BinaryFrame FrameType = 2
	CloseFrame  FrameType = 8
	PingFrame   FrameType = 9
	PongFrame   FrameType = 10
)

func (t FrameType) Is(other FrameType) bool {
	return t == other
}

func (t FrameType) IsData() bool {
	return t.Is(TextFrame) || t.Is(BinaryFrame)
}

func (t FrameType) IsPing() bool {
	return t.Is(PingFrame)
}

func (t FrameType) IsPong() bool {
	return t.Is(PongFrame)
}

func (t FrameType) IsClose() bool {
	return t.Is(CloseFrame)
}

// Frame is a single websocket frame as seen by the transport. Data frames
// carry UTF-8 JSON payloads; the rest are control frames.
type Frame struct {
	FrameType FrameType
	FrameData []byte
	// Code is only meaningful on close frames.
	Code int
}

func (f Frame) Type() FrameType {
	return f.FrameType
}

func (f Frame) Data() []byte {
	return f.FrameData
}

func (f Frame) String() string {
	if f.FrameType.IsClose() {
		return fmt.Sprintf("Frame{type=%d,code=%d,data=%s}", f.FrameType, f.Code, f.FrameData)
	}
	return fmt.Sprintf("Frame{type=%d,data=%s}", f.FrameType, f.FrameData)
}

func NewFrame(ft FrameType, data []byte) Frame {
	return Frame{FrameType: ft, FrameData: data}
}

func NewTextFrame(data []byte) Frame {
	return NewFrame(TextFrame, data)
}

func NewBinaryFrame(data []byte) Frame {
	return NewFrame(BinaryFrame, data)
}

func NewPingFrame(data []byte) Frame {
	return NewFrame(PingFrame, data)
}

func NewPongFrame(data []byte) Frame {
	return NewFrame(PongFrame, data)
}

func NewCloseFrame(code int, data []byte) Frame {
	return Frame{FrameType: CloseFrame, FrameData: data, Code: code}
}
