package fsstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/morezero/native-bridge/pkg/ipc"
	"github.com/morezero/native-bridge/pkg/jsonvalue"
)

const routesLogPrefix = "fsstate:routes"

// Register maps the fs.* routes onto r.
func (t *Table) Register(r *ipc.Router) {
	r.Map("fs.open", t.handleOpen)
	r.Map("fs.read", t.handleRead)
	r.Map("fs.close", t.handleClose)
	r.Map("fs.watch", t.handleWatch)
	r.Map("fs.unwatch", t.handleUnwatch)
	slog.Info(fmt.Sprintf("%s - registered fs routes", routesLogPrefix))
}

func reply(msg *ipc.Message, out ipc.Reply, source string, data jsonvalue.Value) {
	res := ipc.NewResult(msg)
	res.Source = source
	res.SetData(data)
	out(res)
}

func fail(msg *ipc.Message, out ipc.Reply, source string, err error) {
	var ipcErr *ipc.Error
	if !errors.As(err, &ipcErr) {
		err = ipc.NewError(CodeIO, "%v", err)
	}
	res := ipc.ErrorResult(msg, err)
	res.Source = source
	out(res)
}

func idValue(id uint64) jsonvalue.Value {
	return jsonvalue.String(strconv.FormatUint(id, 10))
}

func (t *Table) handleOpen(_ context.Context, msg *ipc.Message, out ipc.Reply) {
	path, ok := msg.Decode("path")
	if !ok || path == "" {
		fail(msg, out, "fs.open", ipc.NewError(ipc.CodeInvalidMessage, "missing 'path'"))
		return
	}
	d, err := t.Open(path)
	if err != nil {
		fail(msg, out, "fs.open", err)
		return
	}
	reply(msg, out, "fs.open", jsonvalue.ObjectValue(jsonvalue.NewObject(
		jsonvalue.Entry{Key: "id", Value: idValue(d.ID)},
		jsonvalue.Entry{Key: "path", Value: jsonvalue.String(d.Path)},
	)))
}

// handleRead answers with the file content as the result's binary post.
// An "id" argument reads an open descriptor; otherwise "path" is read directly.
func (t *Table) handleRead(_ context.Context, msg *ipc.Message, out ipc.Reply) {
	var (
		body []byte
		path string
		err  error
	)
	if _, hasID := msg.Get("id"); hasID {
		var id uint64
		if id, err = parseID(msg); err == nil {
			if d, ok := t.Descriptor(id); ok {
				path = d.Path
			}
			body, err = t.Read(id)
		}
	} else {
		var ok bool
		path, ok = msg.Decode("path")
		if !ok || path == "" {
			err = ipc.NewError(ipc.CodeInvalidMessage, "missing 'path'")
		} else {
			body, err = os.ReadFile(path)
		}
	}
	if err != nil {
		fail(msg, out, "fs.read", err)
		return
	}

	res := ipc.NewResult(msg)
	res.Source = "fs.read"
	res.SetData(jsonvalue.ObjectValue(jsonvalue.NewObject(
		jsonvalue.Entry{Key: "size", Value: jsonvalue.Number(float64(len(body)))},
	)))
	res.SetBytes(body)
	res.SetHeader("Content-Type", contentType(path, body))
	res.SetHeader("Content-Length", strconv.Itoa(len(body)))
	out(res)
}

func contentType(path string, body []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(body)
}

func (t *Table) handleClose(_ context.Context, msg *ipc.Message, out ipc.Reply) {
	id, err := parseID(msg)
	if err == nil {
		err = t.Close(id)
	}
	if err != nil {
		fail(msg, out, "fs.close", err)
		return
	}
	reply(msg, out, "fs.close", jsonvalue.ObjectValue(jsonvalue.NewObject(
		jsonvalue.Entry{Key: "id", Value: idValue(id)},
	)))
}

func (t *Table) handleWatch(ctx context.Context, msg *ipc.Message, out ipc.Reply) {
	path, ok := msg.Decode("path")
	if !ok || path == "" {
		fail(msg, out, "fs.watch", ipc.NewError(ipc.CodeInvalidMessage, "missing 'path'"))
		return
	}
	w, err := t.Watch(context.WithoutCancel(ctx), path)
	if err != nil {
		fail(msg, out, "fs.watch", err)
		return
	}
	reply(msg, out, "fs.watch", jsonvalue.ObjectValue(jsonvalue.NewObject(
		jsonvalue.Entry{Key: "id", Value: idValue(w.ID)},
		jsonvalue.Entry{Key: "path", Value: jsonvalue.String(w.Path)},
	)))
}

func (t *Table) handleUnwatch(_ context.Context, msg *ipc.Message, out ipc.Reply) {
	id, err := parseID(msg)
	if err == nil && !t.Unwatch(id) {
		err = ipc.NewError(ipc.CodeInvalidMessage, "unknown watcher %d", id)
	}
	if err != nil {
		fail(msg, out, "fs.unwatch", err)
		return
	}
	reply(msg, out, "fs.unwatch", jsonvalue.ObjectValue(jsonvalue.NewObject(
		jsonvalue.Entry{Key: "id", Value: idValue(id)},
	)))
}
