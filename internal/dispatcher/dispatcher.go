// Package dispatcher implements spec §4.12's JSON-RPC dispatcher:
// newline-delimited JSON framing over two byte streams, request routing
// to the orchestrator, atomic serialized writes shared with the
// notification forwarder, and the client-bound request/response
// correlation the permission prompt needs. Grounded on the teacher's
// pkg/acp/jsonrpc.Transport (bufio.Scanner read loop + output mutex) and
// internal/agentctl/server/process's pendingPermissions map (the
// request-id-keyed channel pattern), generalized to a full bidirectional
// JSON-RPC peer instead of one used only for control-plane calls.
package dispatcher

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/core"
	"github.com/kandev/acpbridge/internal/ids"
	"github.com/kandev/acpbridge/internal/logger"
	"github.com/kandev/acpbridge/internal/protocol"
	"github.com/kandev/acpbridge/internal/protocol/acp"
	"github.com/kandev/acpbridge/internal/protocol/jsonrpc"
)

const (
	readBufInitial = 64 * 1024
	readBufMax     = 16 * 1024 * 1024
)

// Handler is implemented by the orchestrator.
type Handler interface {
	Initialize(ctx context.Context, params acp.InitializeParams) (acp.InitializeResult, error)
	Authenticate(ctx context.Context, params json.RawMessage) error
	SessionNew(ctx context.Context, params acp.SessionNewParams) (acp.SessionNewResult, error)
	SessionLoad(ctx context.Context, params acp.SessionLoadParams) (acp.SessionLoadResult, error)
	SessionSetMode(ctx context.Context, params acp.SessionSetModeParams) error
	SessionPrompt(ctx context.Context, params acp.SessionPromptParams) (acp.SessionPromptResult, error)
	SessionCancel(ctx context.Context, params acp.SessionCancelParams) error
	ExtensionStub(method string) acp.ExtensionStubResult
	Shutdown()
}

type pendingCall struct {
	resultCh chan json.RawMessage
	errCh    chan error
}

// Dispatcher owns the wire loop over in/out and implements
// orchestrator.Transport for outgoing client-bound requests.
type Dispatcher struct {
	log     *logger.Logger
	handler Handler

	in     *bufio.Scanner
	out    io.Writer
	outMu  sync.Mutex

	nextID   int64
	pending  sync.Map // requestID string -> *pendingCall
	inflight sync.WaitGroup
}

// New builds a Dispatcher reading newline-delimited JSON from in and
// writing framed responses/notifications to out.
func New(in io.Reader, out io.Writer, log *logger.Logger) *Dispatcher {
	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, readBufInitial)
	scanner.Buffer(buf, readBufMax)
	return &Dispatcher{log: log, in: scanner, out: out}
}

// SetHandler attaches the orchestrator. Kept separate from New so the
// orchestrator can be constructed with the Dispatcher as its Transport
// (the two hold a cyclic reference by design).
func (d *Dispatcher) SetHandler(h Handler) { d.handler = h }

func (d *Dispatcher) writeLine(v any) error {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = d.out.Write(b)
	return err
}

// SendNotification implements orchestrator.Transport.
func (d *Dispatcher) SendNotification(method string, params any) {
	n := jsonrpc.Notification{JSONRPC: "2.0", Method: method, Params: params}
	if err := d.writeLine(n); err != nil {
		d.log.Warn("failed to write notification", zap.String("method", method), zap.Error(err))
	}
}

// SendRequest implements orchestrator.Transport: sends a client-bound
// request and blocks until the matching response arrives or ctx ends.
func (d *Dispatcher) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := fmt.Sprintf("srv-%d", atomic.AddInt64(&d.nextID, 1))
	call := &pendingCall{resultCh: make(chan json.RawMessage, 1), errCh: make(chan error, 1)}
	d.pending.Store(id, call)
	defer d.pending.Delete(id)

	idRaw, _ := json.Marshal(id)
	req := jsonrpc.Request{JSONRPC: "2.0", ID: idRaw, Method: method, Params: mustMarshal(params)}
	if err := d.writeLine(req); err != nil {
		return nil, core.UpstreamErrorf("failed to send %s request: %v", method, err)
	}

	select {
	case res := <-call.resultCh:
		return res, nil
	case err := <-call.errCh:
		return nil, err
	case <-ctx.Done():
		return nil, core.TimeoutErrorf("%s request cancelled: %v", method, ctx.Err())
	}
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// Run drives the read loop until the input stream ends or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	lines := make(chan []byte)
	scanErrCh := make(chan error, 1)

	go func() {
		for d.in.Scan() {
			line := make([]byte, len(d.in.Bytes()))
			copy(line, d.in.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErrCh <- d.in.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				// Input is closed, so no reply to a client-bound request can
				// arrive; fail those, then wait for in-flight requests to
				// write their responses.
				d.pending.Range(func(_, v any) bool {
					select {
					case v.(*pendingCall).errCh <- core.UpstreamErrorf("client input closed"):
					default:
					}
					return true
				})
				d.inflight.Wait()
				return <-scanErrCh
			}
			if len(line) == 0 {
				continue
			}
			d.handleLine(ctx, line)
		}
	}
}

func (d *Dispatcher) handleLine(ctx context.Context, line []byte) {
	var msg jsonrpc.Request
	if err := json.Unmarshal(line, &msg); err != nil {
		d.log.Warn("malformed JSON-RPC message", zap.Error(err))
		return
	}

	// A line with no "method" is a reply to a server-initiated request
	// (e.g. request_permission); route it to the waiting caller.
	if msg.Method == "" {
		d.handleReply(line)
		return
	}

	if msg.IsNotification() {
		d.handleNotification(ctx, msg)
		return
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.handleRequest(ctx, msg)
	}()
}

func (d *Dispatcher) handleReply(line []byte) {
	var reply struct {
		ID     json.RawMessage `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *jsonrpc.Error  `json:"error"`
	}
	if err := json.Unmarshal(line, &reply); err != nil {
		d.log.Warn("malformed reply to server-initiated request", zap.Error(err))
		return
	}
	var id string
	_ = json.Unmarshal(reply.ID, &id)

	v, ok := d.pending.Load(id)
	if !ok {
		return
	}
	call := v.(*pendingCall)
	if reply.Error != nil {
		call.errCh <- core.UpstreamErrorf("client returned an error: %s", reply.Error.Message)
		return
	}
	call.resultCh <- reply.Result
}

func (d *Dispatcher) handleNotification(ctx context.Context, msg jsonrpc.Request) {
	switch msg.Method {
	case jsonrpc.MethodSessionCancel:
		var params acp.SessionCancelParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			d.log.Warn("malformed session/cancel notification", zap.Error(err))
			return
		}
		if err := d.handler.SessionCancel(ctx, params); err != nil {
			d.log.Warn("session/cancel failed", zap.Error(err))
		}
	default:
		d.log.Debug("acknowledged extension notification", zap.String("method", msg.Method))
	}
}

func (d *Dispatcher) handleRequest(ctx context.Context, msg jsonrpc.Request) {
	correlationID := ids.NewCorrelationID()
	result, err := d.dispatch(ctx, msg.Method, msg.Params)
	if err != nil {
		if ce, ok := core.AsCoreError(err); ok {
			err = ce.WithCorrelationID(correlationID)
		}
		rpcErr := protocol.ToJSONRPCError(err, d.log)
		resp := jsonrpc.NewErrorResponse(msg.ID, rpcErr)
		if writeErr := d.writeLine(resp); writeErr != nil {
			d.log.Error("failed to write error response", zap.Error(writeErr))
		}
		return
	}

	resp, err := jsonrpc.NewResponse(msg.ID, result)
	if err != nil {
		d.log.Error("failed to marshal response", zap.Error(err))
		return
	}
	if err := d.writeLine(resp); err != nil {
		d.log.Error("failed to write response", zap.Error(err))
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case jsonrpc.MethodInitialize:
		var p acp.InitializeParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return d.handler.Initialize(ctx, p)

	case jsonrpc.MethodAuthenticate:
		return nil, d.handler.Authenticate(ctx, params)

	case jsonrpc.MethodSessionNew:
		var p acp.SessionNewParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return d.handler.SessionNew(ctx, p)

	case jsonrpc.MethodSessionLoad:
		var p acp.SessionLoadParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return d.handler.SessionLoad(ctx, p)

	case jsonrpc.MethodSessionSetMode:
		var p acp.SessionSetModeParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.handler.SessionSetMode(ctx, p)

	case jsonrpc.MethodSessionPrompt:
		var p acp.SessionPromptParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return d.handler.SessionPrompt(ctx, p)

	case jsonrpc.MethodSessionCancel:
		var p acp.SessionCancelParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return nil, d.handler.SessionCancel(ctx, p)

	default:
		return d.handler.ExtensionStub(method), nil
	}
}

func unmarshalParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return core.ValidationErrorf("invalid params: %v", err)
	}
	return nil
}

// Shutdown runs the handler's draining logic (spec §4.12).
func (d *Dispatcher) Shutdown() {
	if d.handler != nil {
		d.handler.Shutdown()
	}
}
