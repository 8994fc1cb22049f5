package model

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Block type discriminators as they appear on the wire.
const (
	BlockTypeText           = "text"
	BlockTypeThought        = "thought"
	BlockTypeMedia          = "media"
	BlockTypeFunctionCall   = "function_call"
	BlockTypeFunctionResult = "function_result"
	BlockTypeBuiltinCall    = "builtin_call"
	BlockTypeBuiltinResult  = "builtin_result"
)

// Block is one element of an Interaction's output sequence. It is a closed
// union: the concrete types below plus OpaqueBlock for discriminators this
// client does not know. Unknown blocks round-trip byte-identically.
type Block interface {
	// Type returns the wire discriminator for the block.
	Type() string

	isBlock()
}

// TextBlock is generated text.
type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) Type() string { return BlockTypeText }
func (TextBlock) isBlock()     {}

// ThoughtBlock is a reasoning summary. The signature is opaque to the
// client and must be relayed untouched when history is replayed.
type ThoughtBlock struct {
	Summary   string `json:"summary,omitempty"`
	Signature string `json:"signature,omitempty"`
}

func (ThoughtBlock) Type() string { return BlockTypeThought }
func (ThoughtBlock) isBlock()     {}

// MediaKind classifies a media payload.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// MediaBlock carries a media payload either inline (Data, base64 on the
// wire) or by reference (URI). Exactly one of the two must be set.
type MediaBlock struct {
	Kind     MediaKind `json:"kind"`
	MIMEType string    `json:"mime_type,omitempty"`
	Data     []byte    `json:"data,omitempty"`
	URI      string    `json:"uri,omitempty"`
}

func (MediaBlock) Type() string { return BlockTypeMedia }
func (MediaBlock) isBlock()     {}

// FunctionCallBlock is a model-issued request for the client to run a tool.
// Arguments hold serialized JSON; while a stream is still delivering
// fragments the buffer may be incomplete and need not parse.
type FunctionCallBlock struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

func (FunctionCallBlock) Type() string { return BlockTypeFunctionCall }
func (FunctionCallBlock) isBlock()     {}

// FunctionResultBlock answers a FunctionCallBlock. CallID must equal the
// originating call's ID and Name must be copied verbatim.
type FunctionResultBlock struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Result  string `json:"result"`
	IsError bool   `json:"is_error,omitempty"`
}

func (FunctionResultBlock) Type() string { return BlockTypeFunctionResult }
func (FunctionResultBlock) isBlock()     {}

// BuiltinTool names a server-side tool the service can run on its own.
type BuiltinTool string

const (
	BuiltinSearch        BuiltinTool = "search"
	BuiltinCodeExecution BuiltinTool = "code_execution"
	BuiltinURLFetch      BuiltinTool = "url_fetch"
	BuiltinRemoteTool    BuiltinTool = "remote_tool"
	BuiltinFileSearch    BuiltinTool = "file_search"
)

// BuiltinCallBlock records a server-side tool invocation. The client never
// executes these; they appear in outputs for observability only.
type BuiltinCallBlock struct {
	Tool BuiltinTool     `json:"tool"`
	ID   string          `json:"id"`
	Args json.RawMessage `json:"args,omitempty"`
}

func (BuiltinCallBlock) Type() string { return BlockTypeBuiltinCall }
func (BuiltinCallBlock) isBlock()     {}

// BuiltinResultBlock carries the output of a server-side tool invocation.
type BuiltinResultBlock struct {
	Tool   BuiltinTool     `json:"tool"`
	CallID string          `json:"call_id"`
	Output json.RawMessage `json:"output,omitempty"`
}

func (BuiltinResultBlock) Type() string { return BlockTypeBuiltinResult }
func (BuiltinResultBlock) isBlock()     {}

// OpaqueBlock preserves a block whose discriminator this client does not
// recognize. Raw holds the original JSON object and is re-emitted as-is.
type OpaqueBlock struct {
	TypeName string
	Raw      json.RawMessage
}

func (b OpaqueBlock) Type() string { return b.TypeName }
func (OpaqueBlock) isBlock()       {}

// NewTextBlock builds a text block.
func NewTextBlock(text string) TextBlock {
	return TextBlock{Text: text}
}

// NewThoughtBlock builds a thought block with an opaque signature.
func NewThoughtBlock(summary, signature string) ThoughtBlock {
	return ThoughtBlock{Summary: summary, Signature: signature}
}

// NewInlineMedia builds a media block carrying its payload inline.
func NewInlineMedia(kind MediaKind, mimeType string, data []byte) MediaBlock {
	return MediaBlock{Kind: kind, MIMEType: mimeType, Data: data}
}

// NewMediaURI builds a media block referencing an external payload.
func NewMediaURI(kind MediaKind, mimeType, uri string) MediaBlock {
	return MediaBlock{Kind: kind, MIMEType: mimeType, URI: uri}
}

// NewFunctionCall builds a function call block.
func NewFunctionCall(id, name, arguments string) FunctionCallBlock {
	return FunctionCallBlock{ID: id, Name: name, Arguments: arguments}
}

// NewFunctionResult builds a function result answering the call with the
// given id.
func NewFunctionResult(callID, name, result string) FunctionResultBlock {
	return FunctionResultBlock{CallID: callID, Name: name, Result: result}
}

func (b TextBlock) MarshalJSON() ([]byte, error) {
	type alias TextBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockTypeText, alias(b)})
}

func (b ThoughtBlock) MarshalJSON() ([]byte, error) {
	type alias ThoughtBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockTypeThought, alias(b)})
}

func (b MediaBlock) MarshalJSON() ([]byte, error) {
	type alias MediaBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockTypeMedia, alias(b)})
}

func (b FunctionCallBlock) MarshalJSON() ([]byte, error) {
	type alias FunctionCallBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockTypeFunctionCall, alias(b)})
}

func (b FunctionResultBlock) MarshalJSON() ([]byte, error) {
	type alias FunctionResultBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockTypeFunctionResult, alias(b)})
}

func (b BuiltinCallBlock) MarshalJSON() ([]byte, error) {
	type alias BuiltinCallBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockTypeBuiltinCall, alias(b)})
}

func (b BuiltinResultBlock) MarshalJSON() ([]byte, error) {
	type alias BuiltinResultBlock
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{BlockTypeBuiltinResult, alias(b)})
}

func (b OpaqueBlock) MarshalJSON() ([]byte, error) {
	if len(b.Raw) == 0 {
		return json.Marshal(struct {
			Type string `json:"type"`
		}{b.TypeName})
	}
	return append([]byte(nil), b.Raw...), nil
}

// UnmarshalBlock decodes one block from its wire envelope. Unknown type
// discriminators yield an OpaqueBlock rather than an error.
func UnmarshalBlock(data []byte) (Block, error) {
	t := gjson.GetBytes(data, "type")
	if !t.Exists() || t.String() == "" {
		return nil, fmt.Errorf("%w: missing type discriminator", ErrMalformedBlock)
	}

	switch t.String() {
	case BlockTypeText:
		var v TextBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode text block: %w", err)
		}
		return v, nil
	case BlockTypeThought:
		var v ThoughtBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode thought block: %w", err)
		}
		return v, nil
	case BlockTypeMedia:
		var v MediaBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode media block: %w", err)
		}
		return v, nil
	case BlockTypeFunctionCall:
		var v FunctionCallBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode function_call block: %w", err)
		}
		return v, nil
	case BlockTypeFunctionResult:
		var v FunctionResultBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode function_result block: %w", err)
		}
		return v, nil
	case BlockTypeBuiltinCall:
		var v BuiltinCallBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode builtin_call block: %w", err)
		}
		return v, nil
	case BlockTypeBuiltinResult:
		var v BuiltinResultBlock
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode builtin_result block: %w", err)
		}
		return v, nil
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return OpaqueBlock{TypeName: t.String(), Raw: raw}, nil
	}
}

// ValidateBlock checks that all fields required by the block's type are
// present. It returns an error wrapping ErrMalformedBlock otherwise.
func ValidateBlock(b Block) error {
	switch v := b.(type) {
	case TextBlock, ThoughtBlock:
		return nil
	case MediaBlock:
		if v.Kind == "" {
			return fmt.Errorf("%w: media requires kind", ErrMalformedBlock)
		}
		if len(v.Data) == 0 && v.URI == "" {
			return fmt.Errorf("%w: media requires inline data or uri", ErrMalformedBlock)
		}
		if len(v.Data) > 0 && v.URI != "" {
			return fmt.Errorf("%w: media payload must be inline data or uri, not both", ErrMalformedBlock)
		}
		return nil
	case FunctionCallBlock:
		if v.ID == "" {
			return fmt.Errorf("%w: function_call requires id", ErrMalformedBlock)
		}
		if v.Name == "" {
			return fmt.Errorf("%w: function_call requires name", ErrMalformedBlock)
		}
		return nil
	case FunctionResultBlock:
		if v.CallID == "" {
			return fmt.Errorf("%w: function_result requires call_id", ErrMalformedBlock)
		}
		if v.Name == "" {
			return fmt.Errorf("%w: function_result requires name", ErrMalformedBlock)
		}
		return nil
	case BuiltinCallBlock:
		if v.Tool == "" {
			return fmt.Errorf("%w: builtin_call requires tool", ErrMalformedBlock)
		}
		if v.ID == "" {
			return fmt.Errorf("%w: builtin_call requires id", ErrMalformedBlock)
		}
		return nil
	case BuiltinResultBlock:
		if v.Tool == "" {
			return fmt.Errorf("%w: builtin_result requires tool", ErrMalformedBlock)
		}
		if v.CallID == "" {
			return fmt.Errorf("%w: builtin_result requires call_id", ErrMalformedBlock)
		}
		return nil
	case OpaqueBlock:
		if v.TypeName == "" {
			return fmt.Errorf("%w: opaque block requires a type name", ErrMalformedBlock)
		}
		return nil
	case nil:
		return fmt.Errorf("%w: nil block", ErrMalformedBlock)
	default:
		return nil
	}
}

// Blocks is an ordered block sequence with union-aware JSON decoding.
type Blocks []Block

func (bs *Blocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("failed to decode block list: %w", err)
	}
	out := make(Blocks, 0, len(raws))
	for _, r := range raws {
		b, err := UnmarshalBlock(r)
		if err != nil {
			return err
		}
		out = append(out, b)
	}
	*bs = out
	return nil
}

// FunctionCalls returns the function_call blocks in order.
func (bs Blocks) FunctionCalls() []FunctionCallBlock {
	var calls []FunctionCallBlock
	for _, b := range bs {
		if c, ok := b.(FunctionCallBlock); ok {
			calls = append(calls, c)
		}
	}
	return calls
}

// FunctionResults returns the function_result blocks in order.
func (bs Blocks) FunctionResults() []FunctionResultBlock {
	var results []FunctionResultBlock
	for _, b := range bs {
		if r, ok := b.(FunctionResultBlock); ok {
			results = append(results, r)
		}
	}
	return results
}

// Text joins the text of every text block, in order.
func (bs Blocks) Text() string {
	var out string
	for _, b := range bs {
		if t, ok := b.(TextBlock); ok {
			out += t.Text
		}
	}
	return out
}
