package protocol

import (
	"encoding/json"
	"errors"
)

// Form identifies which of the two protocol shapes a validated output matched.
type Form string

const (
	FormMessage  Form = "message"
	FormToolCall Form = "tool_call"
)

// Message is a natural-language reply, optionally carrying attached
// tool-call requests. Content is preserved verbatim from the input.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a request to invoke a named capability. The args payload is
// opaque at this layer; its internal shape is capability-registry policy.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// Output is a validated protocol output. Exactly one of the two variants is
// set, decided once at construction by the validator; downstream consumers
// never see a blended or empty result.
type Output struct {
	form     Form
	message  *Message
	toolCall *ToolCall
	scan     *ScanReport
}

func newMessageOutput(msg *Message, scan *ScanReport) *Output {
	return &Output{form: FormMessage, message: msg, scan: scan}
}

func newToolCallOutput(tc *ToolCall) *Output {
	return &Output{form: FormToolCall, toolCall: tc}
}

// Form reports which variant this output holds.
func (o *Output) Form() Form {
	return o.form
}

// Message returns the message variant, or false for a tool-call output.
func (o *Output) Message() (*Message, bool) {
	return o.message, o.form == FormMessage
}

// ToolCall returns the tool-call variant, or false for a message output.
func (o *Output) ToolCall() (*ToolCall, bool) {
	return o.toolCall, o.form == FormToolCall
}

// Scan returns the injection scan report for a message output. It is nil for
// tool-call outputs, which carry no free text to scan.
func (o *Output) Scan() *ScanReport {
	return o.scan
}

type messageWire struct {
	Message *Message `json:"message"`
}

type toolCallWire struct {
	ToolCall *ToolCall `json:"tool_call"`
}

// MarshalJSON re-encodes the output to its canonical wire shape. A validated
// output re-encoded this way validates again to an equal value.
func (o *Output) MarshalJSON() ([]byte, error) {
	switch o.form {
	case FormMessage:
		return json.Marshal(messageWire{Message: o.message})
	case FormToolCall:
		return json.Marshal(toolCallWire{ToolCall: o.toolCall})
	}
	return nil, errors.New("protocol: output holds no variant")
}
