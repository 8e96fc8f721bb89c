package ipc

import (
	"errors"

	"github.com/morezero/native-bridge/pkg/jsonvalue"
)

// Result is the reply to a message: a value union split into data and err
// slots (or the legacy single value slot), an optional binary Post and
// headers. A result is built by one handler and handed to one reply.
type Result struct {
	Seq     string
	Source  string
	Post    Post
	Headers Headers

	message *Message
	value   jsonvalue.Value
	data    jsonvalue.Value
	err     jsonvalue.Value
}

// NewResult returns an empty result addressed to msg. A nil msg leaves the
// result addressed to SentinelSeq.
func NewResult(msg *Message) *Result {
	r := &Result{Seq: SentinelSeq}
	if msg != nil {
		r.Seq = msg.Seq()
		r.message = msg
	}
	return r
}

// ErrorResult returns a result for msg whose err slot describes err.
func ErrorResult(msg *Message, err error) *Result {
	r := NewResult(msg)
	var ipcErr *Error
	if !errors.As(err, &ipcErr) {
		ipcErr = &Error{Code: CodeInvalidMessage, Message: err.Error()}
	}
	r.err = ipcErr.Value()
	return r
}

// ResultFromValue builds a result from a reply object. Objects carrying a
// "data" or "err" key are split into those slots (and "source" is lifted
// out); anything else lands in the legacy value slot.
func ResultFromValue(seq string, v jsonvalue.Value, post Post) *Result {
	if seq == "" {
		seq = SentinelSeq
	}
	r := &Result{Seq: seq, Post: post}

	obj, ok := v.AsObject()
	if ok && (obj.Has("data") || obj.Has("err")) {
		if src, ok := obj.Get("source"); ok {
			r.Source, _ = src.AsString()
		}
		if e, ok := obj.Get("err"); ok && !e.IsNone() {
			r.err = e.Clone()
			return r
		}
		d, _ := obj.Get("data")
		r.data = d.Clone()
		return r
	}
	r.value = v.Clone()
	return r
}

// Message returns the originating message, if any.
func (r *Result) Message() *Message { return r.message }

// SetMessage binds the result to msg without touching Seq.
func (r *Result) SetMessage(msg *Message) { r.message = msg }

// SetValue stores v in the legacy single slot.
func (r *Result) SetValue(v jsonvalue.Value) { r.value = v.Clone() }

// Value returns the legacy single slot.
func (r *Result) Value() jsonvalue.Value { return r.value }

// SetData stores a success payload and clears the err slot.
func (r *Result) SetData(v jsonvalue.Value) {
	r.data = v.Clone()
	r.err = jsonvalue.Null()
}

// Data returns the success payload.
func (r *Result) Data() jsonvalue.Value { return r.data }

// SetErr stores a failure payload and clears the data slot.
func (r *Result) SetErr(v jsonvalue.Value) {
	r.err = v.Clone()
	r.data = jsonvalue.Null()
}

// Err returns the failure payload.
func (r *Result) Err() jsonvalue.Value { return r.err }

// IsError reports whether the result carries a failure, either in the err
// slot or as an "err" key of a legacy value object.
func (r *Result) IsError() bool {
	if !r.err.IsNone() {
		return true
	}
	if obj, ok := r.value.AsObject(); ok {
		if e, ok := obj.Get("err"); ok && !e.IsNone() {
			return true
		}
	}
	return false
}

// SetBytes attaches body as the Post body. Empty bodies are ignored.
func (r *Result) SetBytes(body []byte) {
	if len(body) == 0 {
		return
	}
	r.Post.Body = body
}

// Bytes returns the Post body.
func (r *Result) Bytes() []byte { return r.Post.Body }

// SetHeader sets a result header; an existing name is overwritten.
func (r *Result) SetHeader(name, value string) {
	if name == "" {
		return
	}
	r.Headers.Set(name, value)
}

// Header returns a result header.
func (r *Result) Header(name string) (string, bool) { return r.Headers.Get(name) }

// JSONValue renders the reply document: the legacy value when no data/err
// slot was used, otherwise {"seq", "source", "data"|"err"}.
func (r *Result) JSONValue() jsonvalue.Value {
	if r.data.IsNone() && r.err.IsNone() && !r.value.IsNone() {
		return r.value
	}
	obj := jsonvalue.NewObject()
	if r.Seq != "" && r.Seq != SentinelSeq {
		obj.Set("seq", jsonvalue.String(r.Seq))
	}
	if r.Source != "" {
		obj.Set("source", jsonvalue.String(r.Source))
	}
	if !r.err.IsNone() {
		obj.Set("err", r.err)
	} else {
		obj.Set("data", r.data)
	}
	return jsonvalue.ObjectValue(obj)
}

// JSON serializes JSONValue.
func (r *Result) JSON() string { return r.JSONValue().JSON() }
