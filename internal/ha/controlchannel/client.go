package controlchannel

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"
)

// Client is the parent-process side of the control channel: it dials
// the HA control loop's Unix socket and issues request/reply frames
// (spec §4.D).
type Client struct {
	socketPath string
	dialer     net.Dialer
}

// NewClient builds a Client for the given socket path. The socket is
// dialed fresh for every call, matching the low-frequency, low-volume
// nature of this channel (registration, status polls, and the rare
// pause/stop/report request).
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

func (c *Client) roundTrip(ctx context.Context, req Frame) (Frame, error) {
	conn, err := c.dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return Frame{}, fmt.Errorf("dial control channel: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := WriteFrame(conn, req); err != nil {
		return Frame{}, err
	}

	reply, err := ReadFrame(bufio.NewReader(conn))
	if err != nil {
		return Frame{}, fmt.Errorf("read control channel reply: %w", err)
	}
	return reply, nil
}

// Register asks the control loop to report the outcome of its initial
// registration.
func (c *Client) Register(ctx context.Context) (StatusPayload, error) {
	reply, err := c.roundTrip(ctx, Frame{Opcode: OpRegister})
	if err != nil {
		return StatusPayload{}, err
	}
	return DecodeStatusPayload(reply.Payload)
}

// Status requests the control loop's current status, bounded by
// timeout.
func (c *Client) Status(ctx context.Context, timeout time.Duration) (StatusPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err := c.roundTrip(ctx, Frame{Opcode: OpStatus})
	if err != nil {
		return StatusPayload{}, err
	}
	return DecodeStatusPayload(reply.Payload)
}

// Pause asks the control loop to suspend its periodic checks.
func (c *Client) Pause(ctx context.Context) error {
	_, err := c.roundTrip(ctx, Frame{Opcode: OpPause})
	return err
}

// Stop asks the control loop to shut down gracefully.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.roundTrip(ctx, Frame{Opcode: OpStop})
	return err
}

// ReportNodes requests a full snapshot of the node registry.
func (c *Client) ReportNodes(ctx context.Context) ([]ReportEntry, error) {
	reply, err := c.roundTrip(ctx, Frame{Opcode: OpReportNodes})
	if err != nil {
		return nil, err
	}
	return DecodeReport(reply.Payload)
}
