// Package claudecli adapts the locally installed claude binary to the
// provider interface. The CLI authenticates through its own login flow, so no
// API key is involved; failures surface as process exit codes that the
// dispatch layer knows how to decode.
package claudecli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/unifiedai/airelay/pkg/provider"
)

const binaryName = "claude"

// Provider implements provider.Provider by shelling out to the claude CLI.
type Provider struct{}

var _ provider.Provider = (*Provider)(nil)

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "claude-cli" }

// RequiredAPIKeyName returns "": the CLI manages its own credentials.
func (p *Provider) RequiredAPIKeyName() string { return "" }

func (p *Provider) RequiresAPIKey() bool { return false }

// cliResult is the JSON document the CLI prints with --output-format json.
type cliResult struct {
	Result  string `json:"result"`
	IsError bool   `json:"is_error"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) GenerateText(ctx context.Context, params provider.CallParams) (*provider.Result, error) {
	args := buildArgs(params, "json")

	cmd := exec.CommandContext(ctx, binaryName, args...)
	cmd.Stdin = strings.NewReader(userPrompt(params))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, processError(err, stderr.String())
	}

	var parsed cliResult
	if err := json.Unmarshal(stdout.Bytes(), &parsed); err != nil {
		return nil, fmt.Errorf("unexpected output from claude CLI: %w", err)
	}
	if parsed.IsError {
		return nil, fmt.Errorf("claude CLI reported an error: %s", parsed.Result)
	}

	return &provider.Result{
		Text: parsed.Result,
		Usage: &provider.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

func (p *Provider) StreamText(ctx context.Context, params provider.CallParams) (*provider.StreamResult, error) {
	args := buildArgs(params, "stream-json")
	args = append(args, "--verbose")

	cmd := exec.CommandContext(ctx, binaryName, args...)
	cmd.Stdin = strings.NewReader(userPrompt(params))

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("claude CLI stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, processError(err, stderr.String())
	}

	return &provider.StreamResult{
		Stream: &lineStream{
			cmd:     cmd,
			scanner: bufio.NewScanner(stdout),
			stderr:  &stderr,
		},
	}, nil
}

// GenerateObject is unsupported: the CLI has no forced tool-use mode, so a
// structured-output request against it is a capability problem the caller
// must fix by reconfiguring the role.
func (p *Provider) GenerateObject(ctx context.Context, params provider.CallParams) (*provider.Result, error) {
	return nil, fmt.Errorf("model %q via claude-cli does not support tool_use structured output", params.ModelID)
}

func (p *Provider) StreamObject(ctx context.Context, params provider.CallParams) (*provider.StreamResult, error) {
	return nil, fmt.Errorf("model %q via claude-cli does not support tool_use structured output", params.ModelID)
}

func buildArgs(params provider.CallParams, outputFormat string) []string {
	args := []string{"--print", "--output-format", outputFormat}
	if params.ModelID != "" {
		args = append(args, "--model", params.ModelID)
	}
	if system := systemPrompt(params); system != "" {
		args = append(args, "--append-system-prompt", system)
	}
	return args
}

func systemPrompt(params provider.CallParams) string {
	for _, m := range params.Messages {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}

func userPrompt(params provider.CallParams) string {
	var parts []string
	for _, m := range params.Messages {
		if m.Role != "system" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// processError shapes exec failures into the "process exited with code N"
// form the error normalizer decodes.
func processError(err error, stderr string) error {
	if exitErr, ok := err.(*exec.ExitError); ok {
		detail := strings.TrimSpace(stderr)
		if detail != "" {
			return fmt.Errorf("Claude Code process exited with code %d: %s", exitErr.ExitCode(), detail)
		}
		return fmt.Errorf("Claude Code process exited with code %d", exitErr.ExitCode())
	}
	return fmt.Errorf("failed to run %s: %w", binaryName, err)
}

// lineStream yields assistant text from the CLI's stream-json output, one
// event line at a time.
type lineStream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	stderr  *bytes.Buffer
	waitErr error
	waited  bool
}

type streamEvent struct {
	Type    string `json:"type"`
	Message struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

func (s *lineStream) Recv() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var event streamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		if event.Type != "assistant" {
			continue
		}
		var text string
		for _, block := range event.Message.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		if text != "" {
			return text, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	if !s.waited {
		s.waited = true
		s.waitErr = s.cmd.Wait()
	}
	if s.waitErr != nil {
		return "", processError(s.waitErr, s.stderr.String())
	}
	return "", io.EOF
}

func (s *lineStream) Close() error {
	if s.waited {
		return nil
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.waited = true
	s.waitErr = s.cmd.Wait()
	return nil
}
