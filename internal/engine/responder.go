package engine

import (
	"time"
)

// ClientInterface receives replies and notifications from the engine.
// Both methods are called from the post-processor and must not block.
type ClientInterface interface {
	Response(id int32, ok bool, msg string)
	Notify(n Notification)
}

// NamedClient is implemented by clients that carry an identifier for logs
// and the journal
type NamedClient interface {
	ClientID() string
}

func clientName(c ClientInterface) string {
	if c == nil {
		return ""
	}
	if n, ok := c.(NamedClient); ok {
		return n.ClientID()
	}
	return "anonymous"
}

// Responder replies to the client that submitted an event. The zero value
// replies to nobody.
type Responder struct {
	client ClientInterface
	id     int32
}

// NewResponder returns a responder for request id of client
func NewResponder(client ClientInterface, id int32) Responder {
	return Responder{client: client, id: id}
}

// Client returns the client, nil for the null responder
func (r Responder) Client() ClientInterface { return r.client }

// RequestID returns the request id echoed in the reply
func (r Responder) RequestID() int32 { return r.id }

// RespondOK sends a success reply
func (r Responder) RespondOK() {
	if r.client != nil {
		r.client.Response(r.id, true, "")
	}
}

// RespondError sends a failure reply
func (r Responder) RespondError(msg string) {
	if r.client != nil {
		r.client.Response(r.id, false, msg)
	}
}

// notify sends n to the requesting client only
func (r Responder) notify(n Notification) {
	if r.client != nil {
		r.client.Notify(n)
	}
}

// DirectClient delivers replies and notifications in-process through
// callbacks. Either callback may be nil.
type DirectClient struct {
	id         string
	onResponse func(id int32, ok bool, msg string)
	onNotify   func(n Notification)
}

// NewDirectClient returns an in-process client
func NewDirectClient(id string, onResponse func(id int32, ok bool, msg string), onNotify func(Notification)) *DirectClient {
	return &DirectClient{id: id, onResponse: onResponse, onNotify: onNotify}
}

// ClientID implements NamedClient
func (c *DirectClient) ClientID() string { return c.id }

// Response implements ClientInterface
func (c *DirectClient) Response(id int32, ok bool, msg string) {
	if c.onResponse != nil {
		c.onResponse(id, ok, msg)
	}
}

// Notify implements ClientInterface
func (c *DirectClient) Notify(n Notification) {
	if c.onNotify != nil {
		c.onNotify(n)
	}
}

// Notification types
const (
	NotifyCreated      = "created"
	NotifyDeleted      = "deleted"
	NotifyConnected    = "connected"
	NotifyDisconnected = "disconnected"
	NotifyEnabled      = "enabled"
	NotifyDisabled     = "disabled"
	NotifyCleared      = "cleared"
	NotifyPortValue    = "port_value"
	NotifyMetadata     = "metadata"
	NotifyMonitor      = "monitor"
	NotifyPlugin       = "plugin"
	NotifyPlugins      = "plugins"
	NotifyObject       = "object"
)

// Notification is a change or query result sent to clients
type Notification struct {
	Type       string   `json:"type"`
	Path       string   `json:"path,omitempty"`
	Dst        string   `json:"dst,omitempty"`
	ObjectKind string   `json:"object_kind,omitempty"`
	Plugin     string   `json:"plugin,omitempty"`
	Value      *float32 `json:"value,omitempty"`
	Key        string   `json:"key,omitempty"`
	Text       string   `json:"text,omitempty"`
	Data       any      `json:"data,omitempty"`
}

func valuePtr(v float32) *float32 { return &v }

// Record is the journal entry of a finalized event
type Record struct {
	RequestID int32
	Client    string
	Kind      string
	Path      string
	OK        bool
	Outcome   string
	Message   string
	Time      SampleTime
	Submitted time.Time
	Finalized time.Time
}
