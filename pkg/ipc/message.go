package ipc

// Param is one query parameter.
type Param struct {
	Key   string
	Value string
}

// Args is the ordered parameter mapping of a Message. Keys are unique; a
// repeated key keeps its first position and takes the last value.
type Args struct {
	params []Param
	index  map[string]int
}

func (a *Args) set(key, value string) {
	if a.index == nil {
		a.index = make(map[string]int)
	}
	if i, ok := a.index[key]; ok {
		a.params[i].Value = value
		return
	}
	a.index[key] = len(a.params)
	a.params = append(a.params, Param{Key: key, Value: value})
}

// Get returns the value stored for key.
func (a Args) Get(key string) (string, bool) {
	i, ok := a.index[key]
	if !ok {
		return "", false
	}
	return a.params[i].Value, true
}

// Len returns the number of parameters.
func (a Args) Len() int { return len(a.params) }

// Params returns a copy of the parameters in order.
func (a Args) Params() []Param {
	out := make([]Param, len(a.params))
	copy(out, a.params)
	return out
}

func (a Args) clone() Args {
	out := Args{}
	for _, p := range a.params {
		out.set(p.Key, p.Value)
	}
	return out
}

// Message is a parsed request. It is immutable once constructed.
type Message struct {
	uri     string
	name    string
	seq     string
	index   int
	args    Args
	body    []byte
	decoded bool
}

// URI returns the normalized request string the message was parsed from.
func (m *Message) URI() string { return m.uri }

// Name returns the route or listener key.
func (m *Message) Name() string { return m.name }

// Seq returns the sequence id, SentinelSeq when none was given.
func (m *Message) Seq() string { return m.seq }

// Index returns the multi-part index, -1 when none was given.
func (m *Message) Index() int { return m.index }

// ExpectsReply reports whether the sender is waiting on a correlated reply.
func (m *Message) ExpectsReply() bool { return m.seq != SentinelSeq }

// Args returns the ordered parameters.
func (m *Message) Args() Args { return m.args }

// Get returns the parameter value as stored: decoded if the message was
// parsed with eager decoding, raw otherwise.
func (m *Message) Get(key string) (string, bool) { return m.args.Get(key) }

// Decode returns the decoded parameter value whichever way the message was parsed.
func (m *Message) Decode(key string) (string, bool) {
	v, ok := m.args.Get(key)
	if !ok || m.decoded {
		return v, ok
	}
	return DecodeURIComponent(v), true
}

// Value returns the conventional "value" parameter, decoded.
func (m *Message) Value() string {
	v, _ := m.Decode("value")
	return v
}

// Decoded reports whether parameter values were decoded at parse time.
func (m *Message) Decoded() bool { return m.decoded }

// Bytes returns the out-of-band payload.
func (m *Message) Bytes() []byte { return m.body }

// Size returns the payload length.
func (m *Message) Size() int { return len(m.body) }

// Clone returns a deep copy, payload included.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.args = m.args.clone()
	if m.body != nil {
		out.body = append([]byte(nil), m.body...)
	}
	return &out
}

// newEventMessage builds the message listeners receive for an emit. The
// value is stored as given, without a URI round trip.
func newEventMessage(uri, name, value string) *Message {
	msg := &Message{uri: uri, name: name, seq: SentinelSeq, index: -1, decoded: true}
	msg.args.set("value", value)
	return msg
}

func (m *Message) withBody(body []byte) *Message {
	out := *m
	out.body = body
	return &out
}
