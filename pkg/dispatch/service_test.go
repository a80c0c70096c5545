package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/invopop/jsonschema"

	"github.com/unifiedai/airelay/pkg/provider"
)

type recipe struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

func TestMissingPromptRejectedBeforeAnyProviderCall(t *testing.T) {
	h := newHarness()

	for _, call := range []func(context.Context, Request) (*Response, error){
		h.svc.GenerateText, h.svc.StreamText, h.svc.GenerateObject,
	} {
		_, err := call(context.Background(), Request{Role: RoleMain})
		if err == nil {
			t.Fatal("expected a validation error for the missing prompt")
		}
		if !strings.Contains(err.Error(), "missing prompt") {
			t.Errorf("err = %q, expected the missing-prompt message", err.Error())
		}
	}

	if n := h.main.callCount() + h.fall.callCount() + h.res.callCount(); n != 0 {
		t.Errorf("validation failure still invoked providers %d times", n)
	}
}

func TestStreamObjectRequiresSchema(t *testing.T) {
	h := newHarness()

	_, err := h.svc.StreamObject(context.Background(), Request{
		Role:   RoleMain,
		Prompt: "give me an object",
	})
	if err == nil {
		t.Fatal("expected an error for the missing schema")
	}
	if !strings.Contains(err.Error(), "schema") {
		t.Errorf("err = %q, expected a schema complaint", err.Error())
	}
	if h.main.callCount() != 0 {
		t.Error("schema validation failure still invoked a provider")
	}
}

func TestGenerateObjectReflectsStructSchema(t *testing.T) {
	h := newHarness()

	var captured provider.CallParams
	h.main.generate = func(params provider.CallParams) (*provider.Result, error) {
		captured = params
		return &provider.Result{Object: json.RawMessage(`{"name":"stew","steps":["chop","simmer"]}`)}, nil
	}

	resp, err := h.svc.GenerateObject(context.Background(), Request{
		Role:   RoleMain,
		Prompt: "make a recipe",
		Schema: recipe{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured.Schema == nil {
		t.Fatal("the provider should have received a reflected schema")
	}
	if captured.ObjectName != "generated_object" {
		t.Errorf("objectName = %q, expected the default", captured.ObjectName)
	}

	obj, ok := resp.MainResult.(json.RawMessage)
	if !ok {
		t.Fatalf("mainResult is %T, expected json.RawMessage", resp.MainResult)
	}
	var got recipe
	if err := json.Unmarshal(obj, &got); err != nil {
		t.Fatalf("mainResult is not valid JSON: %v", err)
	}
	if got.Name != "stew" || len(got.Steps) != 2 {
		t.Errorf("decoded object = %+v", got)
	}
}

func TestGenerateObjectAcceptsPrebuiltSchema(t *testing.T) {
	h := newHarness()

	prebuilt := &jsonschema.Schema{Type: "object"}
	var captured provider.CallParams
	h.main.generate = func(params provider.CallParams) (*provider.Result, error) {
		captured = params
		return &provider.Result{Object: json.RawMessage(`{}`)}, nil
	}

	_, err := h.svc.GenerateObject(context.Background(), Request{
		Role:       RoleMain,
		Prompt:     "anything",
		Schema:     prebuilt,
		ObjectName: "custom_name",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.Schema != prebuilt {
		t.Error("a prebuilt schema should be passed through untouched")
	}
	if captured.ObjectName != "custom_name" {
		t.Errorf("objectName = %q, expected the caller's name", captured.ObjectName)
	}
}

func TestStreamTextReturnsStreamResult(t *testing.T) {
	h := newHarness()

	resp, err := h.svc.StreamText(context.Background(), textRequest(RoleMain))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stream, ok := resp.MainResult.(*provider.StreamResult)
	if !ok {
		t.Fatalf("mainResult is %T, expected *provider.StreamResult", resp.MainResult)
	}
	defer stream.Stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		sb.WriteString(chunk)
	}
	if sb.String() != "alpha says hi" {
		t.Errorf("streamed text = %q", sb.String())
	}
	if resp.Telemetry == nil {
		t.Error("stream usage was reported, telemetry should be recorded")
	}
}

func TestResponseTextOnNonText(t *testing.T) {
	resp := &Response{MainResult: json.RawMessage(`{}`)}
	if got := resp.Text(); got != "" {
		t.Errorf("Text() on an object response = %q, expected empty", got)
	}
}

func TestOutputTypeDefaultsToCLI(t *testing.T) {
	req := Request{Prompt: "hi"}
	if err := validateRequest(&req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.OutputType != "cli" {
		t.Errorf("outputType = %q, expected cli", req.OutputType)
	}
}

func TestDebugSettingRaisesLogLevel(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	plain := h.svc.loggerFor(&Settings{})
	if plain != h.svc.log {
		t.Error("without the debug flag the service logger should be used as-is")
	}
	if plain.Enabled(ctx, slog.LevelDebug) {
		t.Error("default logger should not emit debug records")
	}

	debug := h.svc.loggerFor(&Settings{Debug: true})
	if !debug.Enabled(ctx, slog.LevelDebug) {
		t.Error("the debug flag should enable debug-level logging")
	}
}

func TestServiceKindString(t *testing.T) {
	testCases := []struct {
		kind     serviceKind
		expected string
		isObject bool
	}{
		{kindGenerateText, "generateText", false},
		{kindStreamText, "streamText", false},
		{kindGenerateObject, "generateObject", true},
		{kindStreamObject, "streamObject", true},
	}
	for _, tc := range testCases {
		if got := tc.kind.String(); got != tc.expected {
			t.Errorf("String() = %q, expected %q", got, tc.expected)
		}
		if got := tc.kind.isObject(); got != tc.isObject {
			t.Errorf("%s isObject() = %v, expected %v", tc.expected, got, tc.isObject)
		}
	}
}
