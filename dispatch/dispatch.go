// Package dispatch is the request dispatcher: decodes a JSON-RPC-like batch
// payload (one request or an array), runs every request concurrently, and
// collects responses in arrival-of-completion order. The Dispatcher is an
// explicit value held by the embedder, never package state.
/*
 * Copyright (c) 2024, corevault authors.
 */
package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/sdcore/corevault/cmn/cos"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is one decoded JSON-RPC-ish call: {id, method, params}.
type Request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// ErrorObj is the error half of a Response, shaped for METHOD_NOT_FOUND and
// the cos taxonomy.
type ErrorObj struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is one reply: either Result or Error is set, never both.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *ErrorObj       `json:"error,omitempty"`
}

// Handler executes one decoded request's params and returns a result to be
// marshaled into Response.Result, or an error mapped to Response.Error.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// SubscriptionHandler is a Handler variant for long-lived subscriptions: it
// is handed a push function and a context that Unsubscribe cancels, and runs
// until that context is done.
type SubscriptionHandler func(ctx context.Context, params json.RawMessage, push func(event any)) error

// Dispatcher is the batch ingress: a method registry plus the live
// subscription map.
type Dispatcher struct {
	handlers    map[string]Handler
	subHandlers map[string]SubscriptionHandler
	eventSink   func(subID string, event any)

	mu   sync.Mutex
	subs map[string]context.CancelFunc // request id -> one-shot cancel
}

// New constructs a Dispatcher. eventSink is the side-channel sender
// subscriptions push events through, registered once at process start.
func New(eventSink func(subID string, event any)) *Dispatcher {
	return &Dispatcher{
		handlers:    make(map[string]Handler),
		subHandlers: make(map[string]SubscriptionHandler),
		eventSink:   eventSink,
		subs:        make(map[string]context.CancelFunc),
	}
}

// Handle registers a plain request/response method.
func (d *Dispatcher) Handle(method string, h Handler) { d.handlers[method] = h }

// HandleSubscription registers a subscription method.
func (d *Dispatcher) HandleSubscription(method string, h SubscriptionHandler) {
	d.subHandlers[method] = h
}

// Unsubscribe drops the one-shot cancellation for reqID, if any is live.
func (d *Dispatcher) Unsubscribe(reqID string) {
	d.mu.Lock()
	cancel, ok := d.subs[reqID]
	delete(d.subs, reqID)
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// HandleBatch decodes raw as either a single Request object or a JSON array
// of Requests, runs every request concurrently, and returns the marshaled
// array of Responses in arrival-of-completion order. A malformed batch fails
// the whole batch with the original payload echoed back.
func (d *Dispatcher) HandleBatch(ctx context.Context, raw []byte) []byte {
	reqs, err := decodeBatch(raw)
	if err != nil {
		out, _ := jsonAPI.Marshal(map[string]any{
			"error":   "malformed batch",
			"payload": string(raw),
		})
		return out
	}

	respCh := make(chan Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for _, req := range reqs {
		req := req
		g.Go(func() error {
			respCh <- d.dispatchOne(gctx, req)
			return nil
		})
	}
	_ = g.Wait()
	close(respCh)

	responses := make([]Response, 0, len(reqs))
	for resp := range respCh {
		responses = append(responses, resp) // arrival order of completion, not request order
	}

	out, _ := jsonAPI.Marshal(responses)
	return out
}

func decodeBatch(raw []byte) ([]Request, error) {
	trimmed := skipWhitespace(raw)
	if len(trimmed) == 0 {
		return nil, cos.NewInvalid("empty batch payload")
	}
	if trimmed[0] == '[' {
		var reqs []Request
		if err := jsonAPI.Unmarshal(raw, &reqs); err != nil {
			return nil, cos.NewInvalid("malformed batch array: %v", err)
		}
		return reqs, nil
	}
	var req Request
	if err := jsonAPI.Unmarshal(raw, &req); err != nil {
		return nil, cos.NewInvalid("malformed request: %v", err)
	}
	return []Request{req}, nil
}

func skipWhitespace(raw []byte) []byte {
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return raw[i:]
}

func (d *Dispatcher) dispatchOne(ctx context.Context, req Request) Response {
	if subH, ok := d.subHandlers[req.Method]; ok {
		return d.dispatchSubscription(ctx, req, subH)
	}

	h, ok := d.handlers[req.Method]
	if !ok {
		return Response{ID: req.ID, Error: &ErrorObj{Code: "METHOD_NOT_FOUND", Message: req.Method}}
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		return errResponse(req.ID, err)
	}
	return Response{ID: req.ID, Result: result}
}

func (d *Dispatcher) dispatchSubscription(ctx context.Context, req Request, h SubscriptionHandler) Response {
	reqID := string(req.ID)
	subCtx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	d.subs[reqID] = cancel
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.subs, reqID)
			d.mu.Unlock()
			cancel()
		}()
		push := func(event any) {
			if d.eventSink != nil {
				d.eventSink(reqID, event)
			}
		}
		if err := h(subCtx, req.Params, push); err != nil {
			push(map[string]any{"subscriptionError": err.Error()})
		}
	}()

	return Response{ID: req.ID, Result: map[string]any{"subscribed": true}}
}

func errResponse(id json.RawMessage, err error) Response {
	code := "INTERNAL"
	switch {
	case cos.IsKind(err, cos.KindNotFound):
		code = "NOT_FOUND"
	case cos.IsKind(err, cos.KindInvalid):
		code = "INVALID"
	case cos.IsKind(err, cos.KindUnavailable):
		code = "UNAVAILABLE"
	case cos.IsKind(err, cos.KindConflict):
		code = "CONFLICT"
	}
	return Response{ID: id, Error: &ErrorObj{Code: code, Message: err.Error()}}
}
