// Package protocol frames the §6 transport messages (playerJoined,
// worldUpdate, roomUpdate, move, trace, RTTQuery/RTTResponse) onto the
// single transport.Conn message pipe both server and client share.
// transport.Conn carries one opaque []byte per call; this package is the
// tag-and-payload envelope multiplexing every message kind over it.
package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// MsgType identifies the envelope's payload.
type MsgType uint8

const (
	MsgPlayerJoined MsgType = iota
	MsgWorldUpdate
	MsgRoomUpdate
	MsgMove
	MsgTrace
	MsgRTTQuery
	MsgRTTResponse
)

// Encode wraps payload in a one-byte type tag, ready for transport.Conn.Send.
func Encode(t MsgType, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(t)
	copy(out[1:], payload)
	return out
}

// Decode splits a message read off transport.Conn.Receive back into its
// type tag and payload.
func Decode(data []byte) (MsgType, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("protocol: empty message")
	}
	return MsgType(data[0]), data[1:], nil
}

// PlayerJoined is the s→c payload announcing a connection's assigned
// player id.
type PlayerJoined struct {
	SessionID      string
	PlayerID       uint32
	JoinTime       int64
	DisconnectTime int64
}

func EncodePlayerJoined(m PlayerJoined) []byte {
	var buf bytes.Buffer
	writeString(&buf, m.SessionID)
	binary.Write(&buf, binary.BigEndian, m.PlayerID)
	binary.Write(&buf, binary.BigEndian, m.JoinTime)
	binary.Write(&buf, binary.BigEndian, m.DisconnectTime)
	return buf.Bytes()
}

func DecodePlayerJoined(data []byte) (PlayerJoined, error) {
	r := bytes.NewReader(data)
	sessionID, err := readString(r)
	if err != nil {
		return PlayerJoined{}, fmt.Errorf("protocol: decode playerJoined: %w", err)
	}
	var m PlayerJoined
	m.SessionID = sessionID
	if err := binary.Read(r, binary.BigEndian, &m.PlayerID); err != nil {
		return PlayerJoined{}, fmt.Errorf("protocol: decode playerJoined: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &m.JoinTime); err != nil {
		return PlayerJoined{}, fmt.Errorf("protocol: decode playerJoined: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &m.DisconnectTime); err != nil {
		return PlayerJoined{}, fmt.Errorf("protocol: decode playerJoined: %w", err)
	}
	return m, nil
}

// RoomUpdate is the s→c notice that a player moved rooms.
type RoomUpdate struct {
	PlayerID uint32
	From     string
	To       string
}

func EncodeRoomUpdate(m RoomUpdate) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, m.PlayerID)
	writeString(&buf, m.From)
	writeString(&buf, m.To)
	return buf.Bytes()
}

func DecodeRoomUpdate(data []byte) (RoomUpdate, error) {
	r := bytes.NewReader(data)
	var m RoomUpdate
	if err := binary.Read(r, binary.BigEndian, &m.PlayerID); err != nil {
		return RoomUpdate{}, fmt.Errorf("protocol: decode roomUpdate: %w", err)
	}
	var err error
	if m.From, err = readString(r); err != nil {
		return RoomUpdate{}, fmt.Errorf("protocol: decode roomUpdate: %w", err)
	}
	if m.To, err = readString(r); err != nil {
		return RoomUpdate{}, fmt.Errorf("protocol: decode roomUpdate: %w", err)
	}
	return m, nil
}

// Move is the c→s input descriptor (§3's input shape).
type Move struct {
	PlayerID     uint32
	Step         uint32
	MessageIndex uint32
	Actions      map[string]bool
}

func EncodeMove(m Move) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, m.PlayerID)
	binary.Write(&buf, binary.BigEndian, m.Step)
	binary.Write(&buf, binary.BigEndian, m.MessageIndex)
	binary.Write(&buf, binary.BigEndian, uint16(len(m.Actions)))
	for name, pressed := range m.Actions {
		writeString(&buf, name)
		if pressed {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

func DecodeMove(data []byte) (Move, error) {
	r := bytes.NewReader(data)
	var m Move
	if err := binary.Read(r, binary.BigEndian, &m.PlayerID); err != nil {
		return Move{}, fmt.Errorf("protocol: decode move: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &m.Step); err != nil {
		return Move{}, fmt.Errorf("protocol: decode move: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &m.MessageIndex); err != nil {
		return Move{}, fmt.Errorf("protocol: decode move: %w", err)
	}
	var count uint16
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return Move{}, fmt.Errorf("protocol: decode move: %w", err)
	}
	m.Actions = make(map[string]bool, count)
	for i := 0; i < int(count); i++ {
		name, err := readString(r)
		if err != nil {
			return Move{}, fmt.Errorf("protocol: decode move: %w", err)
		}
		flag, err := r.ReadByte()
		if err != nil {
			return Move{}, fmt.Errorf("protocol: decode move: %w", err)
		}
		m.Actions[name] = flag != 0
	}
	return m, nil
}

// TraceEntry is one recorded client-side event in a trace batch.
type TraceEntry struct {
	Time int64           `json:"time"`
	Step uint32          `json:"step"`
	Data json.RawMessage `json:"data"`
}

// EncodeTrace/DecodeTrace use JSON, per spec.md §6's "JSON batch"
// wording for the trace message, unlike every other message here which
// uses this module's fixed binary wire format.
func EncodeTrace(entries []TraceEntry) ([]byte, error) {
	b, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode trace: %w", err)
	}
	return b, nil
}

func DecodeTrace(data []byte) ([]TraceEntry, error) {
	var entries []TraceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("protocol: decode trace: %w", err)
	}
	return entries, nil
}

// RTT is the shared shape of RTTQuery and RTTResponse: an echo carrying
// a monotonic id and the sender's timestamp.
type RTT struct {
	ID           uint32
	SentAtUnixMs int64
}

func EncodeRTT(m RTT) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, m.ID)
	binary.Write(&buf, binary.BigEndian, m.SentAtUnixMs)
	return buf.Bytes()
}

func DecodeRTT(data []byte) (RTT, error) {
	r := bytes.NewReader(data)
	var m RTT
	if err := binary.Read(r, binary.BigEndian, &m.ID); err != nil {
		return RTT{}, fmt.Errorf("protocol: decode rtt: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &m.SentAtUnixMs); err != nil {
		return RTT{}, fmt.Errorf("protocol: decode rtt: %w", err)
	}
	return m, nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", err
	}
	return string(b), nil
}
