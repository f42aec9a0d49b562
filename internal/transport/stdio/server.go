package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcpkit/runtime/internal/dispatcher"
	"github.com/mcpkit/runtime/internal/jsonrpc"
	"github.com/mcpkit/runtime/internal/protoerr"
	"github.com/mcpkit/runtime/internal/reqcontext"
	"github.com/mcpkit/runtime/internal/session"
)

// SingletonSessionID is the fixed session identity every stdio connection
// uses; unlike HTTP, there is exactly one session for the process's
// lifetime, so there is nothing to generate an id for.
const SingletonSessionID = "stdio"

// Server runs the single-session, single-threaded stdio transport: read a
// framed message, dispatch it synchronously, write the reply, repeat.
type Server struct {
	dispatcher *dispatcher.Dispatcher
	sessions   *session.Manager
	logger     *slog.Logger

	in  io.Reader
	out io.Writer
}

// New builds a stdio server reading from os.Stdin and writing to
// os.Stdout. Use NewWithIO in tests to substitute both.
func New(d *dispatcher.Dispatcher, sessions *session.Manager, logger *slog.Logger) *Server {
	return NewWithIO(d, sessions, logger, os.Stdin, os.Stdout)
}

// NewWithIO builds a stdio server over arbitrary reader/writer, primarily
// for tests.
func NewWithIO(d *dispatcher.Dispatcher, sessions *session.Manager, logger *slog.Logger, in io.Reader, out io.Writer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dispatcher: d, sessions: sessions, logger: logger, in: in, out: out}
}

// Run reads and dispatches messages until the input is exhausted, a write
// fails, or ctx is canceled (the caller wires SIGINT into ctx via
// RunUntilInterrupt or its own signal.NotifyContext).
func (s *Server) Run(ctx context.Context) error {
	sess := s.sessions.Create(SingletonSessionID, reqcontext.Minimal("stdio"))
	reader := bufio.NewReader(s.in)
	writer := bufio.NewWriter(s.out)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		raw, err := ReadMessage(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if len(raw) == 0 {
			continue
		}

		resp := s.handle(ctx, sess, raw)
		if resp == nil {
			continue
		}
		if err := writeResponse(writer, resp); err != nil {
			return err
		}
	}
}

// RunUntilInterrupt is the cmd/ entrypoint's convenience wrapper: it runs
// Run with a context canceled on SIGINT, which the spec treats as a clean
// shutdown rather than an error.
func (s *Server) RunUntilInterrupt() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

func (s *Server) handle(ctx context.Context, sess *session.Session, raw []byte) *jsonrpc.Response {
	req, err := jsonrpc.DecodeRequest(raw)
	if err != nil {
		id := BestEffortID(raw)
		s.logger.Warn("stdio parse error", "error", err)
		s.dispatcher.NotifyTransportError(sess, err)
		return jsonrpc.NewErrorResponse(id, &jsonrpc.Error{
			Code:    protoerr.CodeParseError,
			Message: "parse error",
		})
	}

	resp := s.dispatcher.Dispatch(ctx, sess, req)
	if req.IsNotification() {
		return nil
	}
	return resp
}

func writeResponse(w *bufio.Writer, resp *jsonrpc.Response) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := w.Write(encoded); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
