package controlchannel

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/sentramon/server/internal/domain"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Frame{Opcode: OpStatus, Payload: []byte("hello")}

	if err := WriteFrame(&buf, want); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Opcode != want.Opcode || !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 1, 0xFF, 0xFF, 0xFF, 0xFF})

	if _, err := ReadFrame(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected an error for an oversized payload length")
	}
}

func TestStatusPayloadRoundTrip(t *testing.T) {
	want := StatusPayload{
		NodeID:  "abc123",
		Name:    "node-a",
		Status:  domain.StatusActive,
		Address: "10.0.0.1",
		Port:    10051,
	}

	got, err := DecodeStatusPayload(want.Encode())
	if err != nil {
		t.Fatalf("DecodeStatusPayload: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestReportRoundTrip(t *testing.T) {
	want := []ReportEntry{
		{NodeID: "a", Name: "node-a", Status: domain.StatusActive, Address: "10.0.0.1", Port: 1, LastAccessAge: 2 * time.Second},
		{NodeID: "b", Name: "node-b", Status: domain.StatusStandby, Address: "10.0.0.2", Port: 2, LastAccessAge: 3 * time.Second},
	}

	got, err := DecodeReport(EncodeReport(want))
	if err != nil {
		t.Fatalf("DecodeReport: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestDecodeReportEmpty(t *testing.T) {
	got, err := DecodeReport(EncodeReport(nil))
	if err != nil {
		t.Fatalf("DecodeReport: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries, got %d", len(got))
	}
}
