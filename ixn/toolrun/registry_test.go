package toolrun

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/voxhollow/interactions-go/ixn/model"
)

type weatherArgs struct {
	City string `json:"city" jsonschema:"title=City,description=City to look up"`
}

func weatherDefinition() Definition {
	return Definition{
		Name:        "get_weather",
		Description: "Look up current conditions for a city.",
		InputSchema: GenerateSchema[weatherArgs](),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in weatherArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return "sunny in " + in.City, nil
		},
	}
}

// TestGenerateSchema tests schema derivation from an input struct.
func TestGenerateSchema(t *testing.T) {
	schema := GenerateSchema[weatherArgs]()
	require.NotNil(t, schema)

	raw, err := json.Marshal(schema)
	require.NoError(t, err)

	assert.Equal(t, "object", gjson.GetBytes(raw, "type").String())
	assert.True(t, gjson.GetBytes(raw, "properties.city").Exists())
	assert.False(t, gjson.GetBytes(raw, "additionalProperties").Bool())
	assert.Contains(t, gjson.GetBytes(raw, "required").Value(), "city")
}

// TestRegistry_Register tests definition checks and duplicate rejection.
func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register(Definition{Handler: func(ctx context.Context, args json.RawMessage) (any, error) { return nil, nil }})
	assert.ErrorContains(t, err, "name is required")

	err = reg.Register(Definition{Name: "get_weather"})
	assert.ErrorContains(t, err, "requires a handler")

	require.NoError(t, reg.Register(weatherDefinition()))
	err = reg.Register(weatherDefinition())
	assert.ErrorContains(t, err, "already registered")
}

// TestRegistry_Specs tests the advertised tool list: sorted by name,
// schemas attached where defined.
func TestRegistry_Specs(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(weatherDefinition()))
	require.NoError(t, reg.Register(Definition{
		Name:        "echo",
		Description: "Return the arguments untouched.",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return args, nil
		},
	}))

	specs := reg.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "echo", specs[0].Name)
	assert.Equal(t, "get_weather", specs[1].Name)
	assert.Nil(t, specs[0].InputSchema)
	require.NotNil(t, specs[1].InputSchema)
	assert.True(t, gjson.GetBytes(specs[1].InputSchema, "properties.city").Exists())
}

// TestRegistry_Execute tests the happy path: arguments in, correlated
// result out.
func TestRegistry_Execute(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(weatherDefinition()))

	res, err := reg.Execute(context.Background(), model.NewFunctionCall("abc", "get_weather", `{"city":"Paris"}`))
	require.NoError(t, err)

	assert.Equal(t, "abc", res.CallID)
	assert.Equal(t, "get_weather", res.Name)
	assert.Equal(t, "sunny in Paris", res.Result)
	assert.False(t, res.IsError)
}

// TestRegistry_ExecuteOutputShapes tests how handler return values map
// onto the result payload.
func TestRegistry_ExecuteOutputShapes(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name: "report",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return map[string]any{"temp_c": 21, "sky": "clear"}, nil
		},
	}))
	require.NoError(t, reg.Register(Definition{
		Name: "raw",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return json.RawMessage(`{"ok":true}`), nil
		},
	}))
	require.NoError(t, reg.Register(Definition{
		Name: "silent",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, nil
		},
	}))

	res, err := reg.Execute(context.Background(), model.NewFunctionCall("c1", "report", "{}"))
	require.NoError(t, err)
	assert.Equal(t, int64(21), gjson.Get(res.Result, "temp_c").Int())

	res, err = reg.Execute(context.Background(), model.NewFunctionCall("c2", "raw", "{}"))
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, res.Result)

	res, err = reg.Execute(context.Background(), model.NewFunctionCall("c3", "silent", "{}"))
	require.NoError(t, err)
	assert.Empty(t, res.Result)
}

// TestRegistry_ExecuteUnknownTool tests lookup failure.
func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), model.NewFunctionCall("abc", "get_weather", "{}"))
	assert.ErrorContains(t, err, "unknown tool")
}

// TestRegistry_ExecuteHandlerError tests that handler failures carry the
// tool name.
func TestRegistry_ExecuteHandlerError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("upstream unavailable")
	require.NoError(t, reg.Register(Definition{
		Name: "flaky",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, boom
		},
	}))

	_, err := reg.Execute(context.Background(), model.NewFunctionCall("c1", "flaky", "{}"))
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "tool flaky failed")
}

// TestRegistry_ValidatesArguments tests schema enforcement and its
// toggle.
func TestRegistry_ValidatesArguments(t *testing.T) {
	def := weatherDefinition()
	def.Handler = func(ctx context.Context, args json.RawMessage) (any, error) {
		return "ok", nil
	}

	reg := NewRegistry()
	require.NoError(t, reg.Register(def))

	_, err := reg.Execute(context.Background(), model.NewFunctionCall("c1", "get_weather", `{"city":123}`))
	assert.ErrorContains(t, err, "rejected by schema")

	_, err = reg.Execute(context.Background(), model.NewFunctionCall("c2", "get_weather", `{}`))
	assert.ErrorContains(t, err, "rejected by schema")

	reg.SetArgumentValidation(false)
	res, err := reg.Execute(context.Background(), model.NewFunctionCall("c3", "get_weather", `{"city":123}`))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Result)
}

// TestRegistry_RejectsInvalidJSONArguments tests the syntactic gate that
// runs before schema validation.
func TestRegistry_RejectsInvalidJSONArguments(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(weatherDefinition()))

	_, err := reg.Execute(context.Background(), model.NewFunctionCall("c1", "get_weather", `{"city":`))
	assert.ErrorContains(t, err, "not valid JSON")
}

// TestRegistry_EmptyArgumentsDefaultToObject tests that a call with no
// arguments hands the handler an empty object.
func TestRegistry_EmptyArgumentsDefaultToObject(t *testing.T) {
	var got string
	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{
		Name: "probe",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			got = string(args)
			return "ok", nil
		},
	}))

	_, err := reg.Execute(context.Background(), model.NewFunctionCall("c1", "probe", ""))
	require.NoError(t, err)
	assert.Equal(t, "{}", got)
}

// TestRegistry_AllowlistByPrefix tests prefix-based execution gating.
func TestRegistry_AllowlistByPrefix(t *testing.T) {
	handler := func(ctx context.Context, args json.RawMessage) (any, error) { return "ok", nil }

	reg := NewRegistry()
	require.NoError(t, reg.Register(Definition{Name: "fs_read", Handler: handler}))
	require.NoError(t, reg.Register(Definition{Name: "net_fetch", Handler: handler}))

	reg.Allow("fs_")

	_, err := reg.Execute(context.Background(), model.NewFunctionCall("c1", "fs_read", "{}"))
	assert.NoError(t, err)

	_, err = reg.Execute(context.Background(), model.NewFunctionCall("c2", "net_fetch", "{}"))
	assert.ErrorContains(t, err, "not allowlisted")

	// A full name is itself a valid prefix.
	reg.Allow("net_fetch")
	_, err = reg.Execute(context.Background(), model.NewFunctionCall("c3", "net_fetch", "{}"))
	assert.NoError(t, err)
}
