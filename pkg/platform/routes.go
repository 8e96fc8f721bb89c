package platform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/native-bridge/pkg/ipc"
	"github.com/morezero/native-bridge/pkg/jsonvalue"
)

const routesLogPrefix = "platform:routes"

// replyWith adapts a module Callback to a route reply.
func replyWith(reply ipc.Reply) Callback {
	return func(seq string, value jsonvalue.Value, post ipc.Post) {
		reply(ipc.ResultFromValue(seq, value, post))
	}
}

// Register maps the platform.* routes onto r.
func (m *Module) Register(r *ipc.Router) {
	r.Map("platform.event", func(_ context.Context, msg *ipc.Message, reply ipc.Reply) {
		data, _ := msg.Decode("data")
		m.Event(msg.Seq(), msg.Value(), data, replyWith(reply))
	})
	r.Map("platform.notify", func(_ context.Context, msg *ipc.Message, reply ipc.Reply) {
		title, _ := msg.Decode("title")
		body, _ := msg.Decode("body")
		m.Notify(msg.Seq(), title, body, replyWith(reply))
	})
	r.Map("platform.revealFile", func(_ context.Context, msg *ipc.Message, reply ipc.Reply) {
		m.RevealFile(msg.Seq(), msg.Value(), replyWith(reply))
	})
	r.Map("platform.openExternal", func(_ context.Context, msg *ipc.Message, reply ipc.Reply) {
		m.OpenExternal(msg.Seq(), msg.Value(), replyWith(reply))
	})
	r.Map("platform.primordials", func(_ context.Context, msg *ipc.Message, reply ipc.Reply) {
		res := ipc.NewResult(msg)
		res.Source = "platform.primordials"
		res.SetData(Primordials())
		reply(res)
	})
	slog.Info(fmt.Sprintf("%s - registered platform routes", routesLogPrefix))
}
