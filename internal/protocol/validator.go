package protocol

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultRole is assumed when a message omits the role field.
const DefaultRole = "assistant"

var defaultAllowedRoles = []string{DefaultRole}

var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Options configures a Validator. The zero value gives the strict default
// behavior: unknown fields rejected, roles limited to {assistant}, built-in
// injection heuristics.
type Options struct {
	// AllowUnknownFields permissively ignores fields outside the closed
	// schema instead of rejecting them.
	AllowUnknownFields bool
	// AllowedRoles is the fixed set of legal message roles.
	AllowedRoles []string
	// DefaultRole is assumed when role is absent. New folds it into the
	// allowed set, so the defaulted role is always legal when explicit.
	DefaultRole string
	// Scanner overrides the injection scanner applied to message content.
	Scanner Scanner
}

// Validator decides whether raw model output is a well-formed protocol
// message. It holds only immutable configuration, so one instance is safe
// for concurrent use across callers.
type Validator struct {
	allowUnknown bool
	roles        map[string]struct{}
	defaultRole  string
	scanner      Scanner
}

// New builds a Validator, filling unset options with the documented defaults.
func New(opts Options) *Validator {
	allowed := opts.AllowedRoles
	if len(allowed) == 0 {
		allowed = defaultAllowedRoles
	}
	roles := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		roles[r] = struct{}{}
	}
	defaultRole := opts.DefaultRole
	if defaultRole == "" {
		defaultRole = DefaultRole
	}
	roles[defaultRole] = struct{}{}
	scanner := opts.Scanner
	if scanner == nil {
		scanner = NewHeuristicScanner()
	}
	return &Validator{
		allowUnknown: opts.AllowUnknownFields,
		roles:        roles,
		defaultRole:  defaultRole,
		scanner:      scanner,
	}
}

// Validate checks one raw protocol message and returns the typed output or
// a *Error describing the first structural violation. It is pure: the same
// input always yields the same result.
func (v *Validator) Validate(input []byte) (*Output, error) {
	// json.Unmarshal would replace invalid UTF-8 with U+FFFD, handing
	// mutated content downstream instead of rejecting it.
	if !utf8.Valid(input) {
		return nil, newError(ErrMalformedInput, "", "input is not valid UTF-8")
	}
	var root any
	if err := json.Unmarshal(input, &root); err != nil {
		return nil, malformedError(err)
	}

	obj, ok := root.(map[string]any)
	if !ok {
		return nil, newError(ErrUnrecognizedForm, "", "top-level value must be an object, got %s", jsonTypeName(root))
	}

	msgVal, hasMessage := obj["message"]
	tcVal, hasToolCall := obj["tool_call"]
	switch {
	case hasMessage && hasToolCall:
		return nil, newError(ErrAmbiguousForm, "", "both %q and %q present; a message resolves to exactly one form", "message", "tool_call")
	case !hasMessage && !hasToolCall:
		return nil, newError(ErrUnrecognizedForm, "", "neither %q nor %q present", "message", "tool_call")
	}

	if err := v.checkUnknownFields(obj, "", "message", "tool_call"); err != nil {
		return nil, err
	}

	if hasToolCall {
		tc, err := v.validateToolCall(tcVal, "tool_call")
		if err != nil {
			return nil, err
		}
		return newToolCallOutput(tc), nil
	}

	msg, err := v.validateMessage(msgVal, "message")
	if err != nil {
		return nil, err
	}
	report := v.scanner.Scan(msg.Content)
	return newMessageOutput(msg, &report), nil
}

func (v *Validator) validateMessage(val any, path string) (*Message, error) {
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, newError(ErrInvalidFieldType, path, "expected object, got %s", jsonTypeName(val))
	}
	if err := v.checkUnknownFields(obj, path, "content", "role", "tool_calls"); err != nil {
		return nil, err
	}

	contentVal, ok := obj["content"]
	if !ok {
		return nil, newError(ErrMissingRequiredField, path+".content", "content is required")
	}
	content, ok := contentVal.(string)
	if !ok {
		return nil, newError(ErrInvalidFieldType, path+".content", "expected string, got %s", jsonTypeName(contentVal))
	}

	role := v.defaultRole
	if roleVal, present := obj["role"]; present {
		role, ok = roleVal.(string)
		if !ok {
			return nil, newError(ErrInvalidFieldType, path+".role", "expected string, got %s", jsonTypeName(roleVal))
		}
		if _, allowed := v.roles[role]; !allowed {
			return nil, newError(ErrInvalidFieldType, path+".role", "role %q is not in the allowed set", role)
		}
	}

	var toolCalls []ToolCall
	if tcVal, present := obj["tool_calls"]; present {
		arr, ok := tcVal.([]any)
		if !ok {
			return nil, newError(ErrInvalidFieldType, path+".tool_calls", "expected array, got %s", jsonTypeName(tcVal))
		}
		for i, el := range arr {
			tc, err := v.validateToolCall(el, elementPath(path+".tool_calls", i))
			if err != nil {
				return nil, err
			}
			toolCalls = append(toolCalls, *tc)
		}
	}

	if strings.TrimSpace(content) == "" && len(toolCalls) == 0 {
		return nil, newError(ErrEmptyContent, path+".content", "content is empty and no tool calls are attached")
	}

	return &Message{Role: role, Content: content, ToolCalls: toolCalls}, nil
}

// validateToolCall handles both the standalone tool-call form and elements
// of a message's tool_calls array; path carries the caller's context.
func (v *Validator) validateToolCall(val any, path string) (*ToolCall, error) {
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, newError(ErrInvalidFieldType, path, "expected object, got %s", jsonTypeName(val))
	}
	if err := v.checkUnknownFields(obj, path, "tool", "args"); err != nil {
		return nil, err
	}

	toolVal, ok := obj["tool"]
	if !ok {
		return nil, newError(ErrMissingRequiredField, path+".tool", "tool is required")
	}
	tool, ok := toolVal.(string)
	if !ok {
		return nil, newError(ErrInvalidFieldType, path+".tool", "expected string, got %s", jsonTypeName(toolVal))
	}
	if !toolNamePattern.MatchString(tool) {
		return nil, newError(ErrInvalidToolName, path+".tool", "tool name %q must match [A-Za-z0-9_-]+", tool)
	}

	args := map[string]any{}
	if argsVal, present := obj["args"]; present {
		args, ok = argsVal.(map[string]any)
		if !ok {
			return nil, newError(ErrInvalidFieldType, path+".args", "expected object, got %s", jsonTypeName(argsVal))
		}
	}

	return &ToolCall{Tool: tool, Args: args}, nil
}

// checkUnknownFields rejects fields outside the closed schema in strict
// mode. The lexically first unknown key is reported so failures are stable
// across map iteration order.
func (v *Validator) checkUnknownFields(obj map[string]any, path string, known ...string) error {
	if v.allowUnknown {
		return nil
	}
	var extras []string
	for key := range obj {
		recognized := false
		for _, k := range known {
			if key == k {
				recognized = true
				break
			}
		}
		if !recognized {
			extras = append(extras, key)
		}
	}
	if len(extras) == 0 {
		return nil
	}
	sort.Strings(extras)
	return newError(ErrUnexpectedField, fieldPath(path, extras[0]), "field %q is not part of the protocol", extras[0])
}

func malformedError(err error) *Error {
	if syn, ok := err.(*json.SyntaxError); ok {
		return newError(ErrMalformedInput, "", "invalid JSON at offset %d: %s", syn.Offset, syn.Error())
	}
	return newError(ErrMalformedInput, "", "invalid JSON: %s", err.Error())
}

func fieldPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}

func elementPath(path string, index int) string {
	return path + "[" + strconv.Itoa(index) + "]"
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "unknown"
}
