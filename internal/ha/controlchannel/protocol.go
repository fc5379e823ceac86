// Package controlchannel implements the local, message-oriented
// control channel between the parent process and the HA control loop
// (spec §4.D). There is no library in reach for this kind of
// same-host binary framing, so frames are encoded by hand over a Unix
// domain socket with encoding/binary, the way the rest of this
// codebase reaches for the standard library when no third-party
// package fits.
package controlchannel

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/sentramon/server/internal/domain"
)

// Opcode identifies the kind of frame being sent (spec §4.D).
type Opcode uint32

const (
	OpRegister     Opcode = 1
	OpStatus       Opcode = 2
	OpPause        Opcode = 3
	OpStop         Opcode = 4
	OpReportNodes  Opcode = 5
	OpStatusUpdate Opcode = 6 // unsolicited push, spec §9 Open Question resolution
)

func (o Opcode) String() string {
	switch o {
	case OpRegister:
		return "REGISTER"
	case OpStatus:
		return "STATUS"
	case OpPause:
		return "PAUSE"
	case OpStop:
		return "STOP"
	case OpReportNodes:
		return "REPORT_NODES"
	case OpStatusUpdate:
		return "STATUS_UPDATE"
	default:
		return fmt.Sprintf("opcode(%d)", o)
	}
}

// maxPayload bounds a single frame's payload to guard against a
// corrupt or malicious length prefix driving an unbounded allocation.
const maxPayload = 1 << 20

// Frame is one message exchanged over the control channel: a 4-byte
// opcode followed by a 4-byte length prefix and that many payload
// bytes, all big-endian.
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

// WriteFrame writes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(f.Opcode))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(f.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(f.Payload) == 0 {
		return nil
	}
	if _, err := w.Write(f.Payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one frame from r, which must be buffered (or at
// least support short consecutive reads cheaply).
func ReadFrame(r *bufio.Reader) (Frame, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	op := Opcode(binary.BigEndian.Uint32(header[0:4]))
	length := binary.BigEndian.Uint32(header[4:8])
	if length > maxPayload {
		return Frame{}, fmt.Errorf("frame payload too large: %d bytes", length)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return Frame{Opcode: op, Payload: payload}, nil
}

// StatusPayload is the REGISTER/STATUS reply and STATUS_UPDATE push
// body: this node's identity plus its current HA status.
type StatusPayload struct {
	NodeID  domain.NodeID
	Name    string
	Status  domain.NodeStatus
	Address string
	Port    int
}

func putString(buf []byte, s string) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

func getString(b []byte) (string, []byte, error) {
	if len(b) < 4 {
		return "", nil, fmt.Errorf("truncated string length")
	}
	n := binary.BigEndian.Uint32(b[:4])
	b = b[4:]
	if uint32(len(b)) < n {
		return "", nil, fmt.Errorf("truncated string body")
	}
	return string(b[:n]), b[n:], nil
}

// Encode serializes a StatusPayload to bytes.
func (p StatusPayload) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = putString(buf, string(p.NodeID))
	buf = putString(buf, p.Name)
	var statusBuf [4]byte
	binary.BigEndian.PutUint32(statusBuf[:], uint32(int32(p.Status)))
	buf = append(buf, statusBuf[:]...)
	buf = putString(buf, p.Address)
	var portBuf [4]byte
	binary.BigEndian.PutUint32(portBuf[:], uint32(p.Port))
	buf = append(buf, portBuf[:]...)
	return buf
}

// DecodeStatusPayload parses bytes produced by StatusPayload.Encode.
func DecodeStatusPayload(b []byte) (StatusPayload, error) {
	var p StatusPayload
	var err error
	var s string

	s, b, err = getString(b)
	if err != nil {
		return p, err
	}
	p.NodeID = domain.NodeID(s)

	s, b, err = getString(b)
	if err != nil {
		return p, err
	}
	p.Name = s

	if len(b) < 4 {
		return p, fmt.Errorf("truncated status")
	}
	p.Status = domain.NodeStatus(int32(binary.BigEndian.Uint32(b[:4])))
	b = b[4:]

	s, b, err = getString(b)
	if err != nil {
		return p, err
	}
	p.Address = s

	if len(b) < 4 {
		return p, fmt.Errorf("truncated port")
	}
	p.Port = int(binary.BigEndian.Uint32(b[:4]))

	return p, nil
}

// ReportEntry mirrors one row of the REPORT_NODES reply (spec §4.E).
type ReportEntry struct {
	NodeID        domain.NodeID
	Name          string
	Status        domain.NodeStatus
	Address       string
	Port          int
	LastAccessAge time.Duration
}

// EncodeReport serializes a slice of ReportEntry values.
func EncodeReport(entries []ReportEntry) []byte {
	buf := make([]byte, 0, 64*len(entries)+4)
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(entries)))
	buf = append(buf, count[:]...)

	for _, e := range entries {
		buf = putString(buf, string(e.NodeID))
		buf = putString(buf, e.Name)
		var statusBuf [4]byte
		binary.BigEndian.PutUint32(statusBuf[:], uint32(int32(e.Status)))
		buf = append(buf, statusBuf[:]...)
		buf = putString(buf, e.Address)
		var portBuf [4]byte
		binary.BigEndian.PutUint32(portBuf[:], uint32(e.Port))
		buf = append(buf, portBuf[:]...)
		var ageBuf [8]byte
		binary.BigEndian.PutUint64(ageBuf[:], uint64(e.LastAccessAge))
		buf = append(buf, ageBuf[:]...)
	}
	return buf
}

// DecodeReport parses bytes produced by EncodeReport.
func DecodeReport(b []byte) ([]ReportEntry, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("truncated report count")
	}
	count := binary.BigEndian.Uint32(b[:4])
	b = b[4:]

	entries := make([]ReportEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e ReportEntry
		var err error
		var s string

		s, b, err = getString(b)
		if err != nil {
			return nil, err
		}
		e.NodeID = domain.NodeID(s)

		s, b, err = getString(b)
		if err != nil {
			return nil, err
		}
		e.Name = s

		if len(b) < 4 {
			return nil, fmt.Errorf("truncated report status")
		}
		e.Status = domain.NodeStatus(int32(binary.BigEndian.Uint32(b[:4])))
		b = b[4:]

		s, b, err = getString(b)
		if err != nil {
			return nil, err
		}
		e.Address = s

		if len(b) < 4 {
			return nil, fmt.Errorf("truncated report port")
		}
		e.Port = int(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]

		if len(b) < 8 {
			return nil, fmt.Errorf("truncated report age")
		}
		e.LastAccessAge = time.Duration(binary.BigEndian.Uint64(b[:8]))
		b = b[8:]

		entries = append(entries, e)
	}
	return entries, nil
}
