package controlchannel

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"
)

// NodesLister provides the data for a REPORT_NODES reply.
type NodesLister interface {
	ReportEntries(ctx context.Context) ([]ReportEntry, error)
}

// StatusProvider provides this node's current identity and status for
// REGISTER/STATUS replies.
type StatusProvider interface {
	StatusPayload() StatusPayload
}

// Controller receives the side-effecting opcodes (spec §4.D).
type Controller interface {
	Pause()
	Stop()
}

// Service is the HA-side control channel listener: one client
// (the parent process) connects over a Unix domain socket and
// exchanges request/reply frames.
type Service struct {
	socketPath string
	status     StatusProvider
	nodes      NodesLister
	ctrl       Controller
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New builds a Service bound to socketPath; call Serve to start
// accepting connections.
func New(socketPath string, status StatusProvider, nodes NodesLister, ctrl Controller, logger *zap.Logger) *Service {
	return &Service{
		socketPath: socketPath,
		status:     status,
		nodes:      nodes,
		ctrl:       ctrl,
		logger:     logger.Named("controlchannel"),
	}
}

// Serve listens on the configured socket path until ctx is cancelled.
// Each accepted connection is served on its own goroutine; the number
// of concurrent connections is not limited.
func (s *Service) Serve(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("control channel listening", zap.String("socket", s.socketPath))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Service) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		frame, err := ReadFrame(r)
		if err != nil {
			return
		}

		reply, ok := s.dispatch(ctx, frame)
		if !ok {
			return
		}
		if err := WriteFrame(conn, reply); err != nil {
			s.logger.Warn("write reply failed", zap.Error(err))
			return
		}
	}
}

func (s *Service) dispatch(ctx context.Context, f Frame) (Frame, bool) {
	switch f.Opcode {
	case OpRegister, OpStatus:
		return Frame{Opcode: f.Opcode, Payload: s.status.StatusPayload().Encode()}, true

	case OpPause:
		s.ctrl.Pause()
		return Frame{Opcode: OpPause}, true

	case OpStop:
		s.ctrl.Stop()
		return Frame{Opcode: OpStop}, true

	case OpReportNodes:
		entries, err := s.nodes.ReportEntries(ctx)
		if err != nil {
			s.logger.Warn("report nodes failed", zap.Error(err))
			return Frame{Opcode: OpReportNodes, Payload: EncodeReport(nil)}, true
		}
		return Frame{Opcode: OpReportNodes, Payload: EncodeReport(entries)}, true

	default:
		s.logger.Warn("unknown opcode", zap.Uint32("opcode", uint32(f.Opcode)))
		return Frame{}, false
	}
}
