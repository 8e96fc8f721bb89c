package commsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/native-bridge/pkg/commsutil"
	"github.com/morezero/native-bridge/pkg/ipc"
)

const logPrefix = "commsbridge:bridge"

// DefaultTimeout bounds an invoke when neither the bridge nor the caller sets one.
const DefaultTimeout = 30 * time.Second

// Options configures a Bridge. Nil or zero values use defaults.
type Options struct {
	Subject string
	Timeout time.Duration
}

// Bridge answers COMMS invoke requests from the router.
type Bridge struct {
	nc      *comms.Conn
	router  *ipc.Router
	subject string
	timeout time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	sub    *comms.Subscription
	cancel context.CancelFunc
}

// New creates a Bridge. Call Start to subscribe.
func New(nc *comms.Conn, router *ipc.Router, opts *Options) *Bridge {
	b := &Bridge{nc: nc, router: router, subject: commsutil.SubjectInvoke, timeout: DefaultTimeout}
	if opts != nil {
		if opts.Subject != "" {
			b.subject = opts.Subject
		}
		if opts.Timeout > 0 {
			b.timeout = opts.Timeout
		}
	}
	return b
}

// Subject returns the invoke subject.
func (b *Bridge) Subject() string { return b.subject }

// Start subscribes to the invoke subject. Each request is served on its
// own goroutine so a slow route does not hold up the subscription.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return nil
	}
	ctx, b.cancel = context.WithCancel(ctx)
	sub, err := b.nc.Subscribe(b.subject, func(msg *comms.Msg) {
		b.mu.Lock()
		if b.sub == nil {
			b.mu.Unlock()
			b.respond(msg, errorResponse("", ipc.CodeTimeout, "Bridge is stopping", true))
			return
		}
		b.wg.Add(1)
		b.mu.Unlock()
		go func() {
			defer b.wg.Done()
			b.serve(ctx, msg)
		}()
	})
	if err != nil {
		b.cancel()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, b.subject, err)
	}
	b.sub = sub
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, b.subject))
	return nil
}

// Stop unsubscribes, cancels in-flight invokes and waits for them to answer.
// Requests arriving after Stop begins are refused.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.sub == nil {
		b.mu.Unlock()
		return nil
	}
	err := b.sub.Unsubscribe()
	b.sub = nil
	b.cancel()
	b.mu.Unlock()
	b.wg.Wait()
	if err != nil {
		return fmt.Errorf("%s - failed to unsubscribe from %s: %w", logPrefix, b.subject, err)
	}
	return nil
}

func (b *Bridge) serve(ctx context.Context, msg *comms.Msg) {
	var req InvokeRequest
	if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
		b.respond(msg, errorResponse("", ipc.CodeInvalidMessage, "Failed to decode request", false))
		return
	}
	b.respond(msg, b.Handle(ctx, &req))
}

func (b *Bridge) respond(msg *comms.Msg, resp *InvokeResponse) {
	data, err := commsutil.EncodePayload(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
		data, err = commsutil.EncodePayload(errorResponse(resp.ID, ipc.CodeInvalidMessage, "Failed to encode response", false))
		if err != nil {
			return
		}
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to respond to %s: %v", logPrefix, resp.ID, err))
	}
}

// Handle invokes req on the router and waits for its reply or the timeout.
func (b *Bridge) Handle(ctx context.Context, req *InvokeRequest) *InvokeResponse {
	slog.Debug(fmt.Sprintf("%s - uri=%s id=%s", logPrefix, req.URI, req.ID))
	if req.URI == "" {
		return errorResponse(req.ID, ipc.CodeInvalidMessage, "Missing uri", false)
	}
	body, err := commsutil.DecodeBody(req.Body)
	if err != nil {
		return errorResponse(req.ID, ipc.CodeInvalidMessage, "Body is not base64", false)
	}

	timeout := b.timeout
	if req.Ctx != nil && req.Ctx.TimeoutMs > 0 {
		if d := time.Duration(req.Ctx.TimeoutMs) * time.Millisecond; d < timeout {
			timeout = d
		}
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := ipc.Await(reqCtx, b.router, req.URI, body)
	resp := &InvokeResponse{ID: req.ID}
	if res != nil {
		resp.Result = resultJSON(res)
		resp.Body = commsutil.EncodeBody(res.Bytes())
		headers := res.Headers
		if headers.Len() == 0 {
			headers = res.Post.Headers
		}
		if headers.Len() > 0 {
			resp.Headers = headers.Map()
		}
	}
	var ipcErr *ipc.Error
	switch {
	case err == nil:
		resp.Ok = res != nil && !res.IsError()
	case errors.As(err, &ipcErr):
		resp.Error = &ErrorDetail{
			Code:      ipcErr.Code,
			Message:   fmt.Sprintf("%s failed: %s", req.URI, ipcErr.Code),
			Retryable: ipcErr.Code == ipc.CodeTimeout,
		}
	default:
		resp.Error = &ErrorDetail{Code: ipc.CodeInvalidMessage, Message: err.Error()}
	}
	return resp
}

// resultJSON returns the result's JSON text, or that text as a JSON string
// when a raw reply left it unparseable.
func resultJSON(res *ipc.Result) json.RawMessage {
	text := res.JSON()
	if json.Valid([]byte(text)) {
		return json.RawMessage(text)
	}
	quoted, err := json.Marshal(text)
	if err != nil {
		return nil
	}
	return quoted
}

func errorResponse(id, code, message string, retryable bool) *InvokeResponse {
	return &InvokeResponse{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}
