package realtime

// Message is the wire envelope for the realtime session endpoint. Inbound
// and outbound messages share the shape; unused fields are omitted.
type Message struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// auth
	Token string `json:"token,omitempty"`

	// tool_call
	Service string                 `json:"service,omitempty"`
	Tool    string                 `json:"tool,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`

	// outbound
	Identity  string      `json:"identity,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Inbound message types.
const (
	TypePing     = "ping"
	TypeAuth     = "auth"
	TypeToolCall = "tool_call"
)

// Outbound message types.
const (
	TypePong         = "pong"
	TypeAuthOK       = "auth_ok"
	TypeToolResponse = "tool_response"
	TypeServiceEvent = "service_event"
	TypeError        = "error"
)

// Error codes carried by error messages.
const (
	CodeAuthRequired       = "auth_required"
	CodeAuthFailed         = "auth_failed"
	CodeToolExecutionError = "tool_execution_error"
	CodeUnknownType        = "unknown_type"
	CodeParseError         = "parse_error"
)
