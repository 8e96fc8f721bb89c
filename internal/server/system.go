package server

import (
	"fmt"
	"log/slog"

	"github.com/morezero/native-bridge/pkg/extension"
	"github.com/morezero/native-bridge/pkg/ipc"
	"github.com/morezero/native-bridge/pkg/jsonvalue"
)

const systemLogPrefix = "server:system"

// systemExtension is loaded into every bridge. It answers liveness probes
// and router statistics through the same host surface third-party
// extensions use.
type systemExtension struct {
	version string
}

func (e *systemExtension) Manifest() extension.Manifest {
	return extension.Manifest{
		Name:        "system",
		Version:     e.version,
		Description: "Bridge liveness and statistics",
		ABI:         "^" + extension.ABIVersion,
		Capabilities: []string{
			extension.OpMap,
			extension.OpListen,
			extension.OpReply,
		},
	}
}

func (e *systemExtension) Init(host *extension.Host, h extension.Handle) error {
	host.Map(h, "system.ping", func(rh extension.Handle, msg *ipc.Message) {
		data := jsonvalue.NewObject(jsonvalue.Entry{Key: "pong", Value: jsonvalue.Bool(true)})
		if v, ok := extension.Arg(msg, "value"); ok {
			data.Set("value", jsonvalue.String(v))
		}
		host.Reply(rh, host.ResultFromJSON(rh, msg, sourced("system.ping", data)))
	}, extension.AutoRelease)

	host.Map(h, "system.stats", func(rh extension.Handle, msg *ipc.Message) {
		st := host.Router().Stats()
		data := jsonvalue.NewObject(
			jsonvalue.Entry{Key: "routes", Value: jsonvalue.Number(float64(st.Routes))},
			jsonvalue.Entry{Key: "listeners", Value: jsonvalue.Number(float64(st.Listeners))},
			jsonvalue.Entry{Key: "pending", Value: jsonvalue.Number(float64(st.Pending))},
			jsonvalue.Entry{Key: "buffers", Value: jsonvalue.Number(float64(st.Buffers))},
			jsonvalue.Entry{Key: "contexts", Value: jsonvalue.Number(float64(host.Live()))},
		)
		host.Reply(rh, host.ResultFromJSON(rh, msg, sourced("system.stats", data)))
	}, extension.AutoRelease)

	host.Listen(h, "system.log", func(_ extension.Handle, msg *ipc.Message) {
		slog.Info(fmt.Sprintf("%s - %s", systemLogPrefix, msg.Value()))
	})
	return nil
}

func sourced(source string, data *jsonvalue.Object) jsonvalue.Value {
	return jsonvalue.ObjectValue(jsonvalue.NewObject(
		jsonvalue.Entry{Key: "source", Value: jsonvalue.String(source)},
		jsonvalue.Entry{Key: "data", Value: jsonvalue.ObjectValue(data)},
	))
}
