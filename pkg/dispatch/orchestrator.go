package dispatch

import (
	"context"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/unifiedai/airelay/pkg/provider"
)

// run drives the failover sequence for one logical request. Roles are
// attempted strictly in order; the first success terminates the sequence, so
// at most one provider call ever succeeds per request.
func (s *Service) run(ctx context.Context, kind serviceKind, req Request) (*Response, error) {
	settings, err := s.settings(req.ProjectRoot)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "loading dispatch settings")
	}

	baseLog := s.loggerFor(settings)
	log := baseLog.WithComponent("orchestrator")

	retryCfg := s.retryConfigFor(req)
	sequence := s.failoverSequence(req.Role)

	var lastErr error
	var lastClean string

	// recordSkip keeps the first skip reason as the representative error but
	// never overwrites a real attempt failure.
	recordSkip := func(cerr *ClassifiedError) {
		if lastErr == nil {
			lastErr = cerr
			lastClean = cerr.Message
		}
	}

	for _, role := range sequence {
		rc, cfgErr := roleConfig(settings, role)
		if cfgErr != nil {
			log.Error("role resolution failed, skipping", "role", string(role), "error", cfgErr.Message)
			recordSkip(cfgErr)
			continue
		}

		prov := s.registry.Lookup(rc.Provider)
		if prov == nil {
			cerr := &ClassifiedError{
				Kind:    ErrorKindConfig,
				Message: fmt.Sprintf("unsupported provider %q configured for role %q", rc.Provider, role),
			}
			log.Error("provider not registered, skipping", "role", string(role), "provider", rc.Provider)
			recordSkip(cerr)
			continue
		}

		var apiKey string
		if !isKeylessProvider(settings, rc.Provider) {
			key, keyErr := s.resolveAPIKey(prov, req.Session, req.ProjectRoot)
			if keyErr != nil {
				log.Error("API key missing, skipping role", "role", string(role), "provider", rc.Provider, "error", keyErr.Message)
				recordSkip(keyErr)
				continue
			}
			apiKey = key
		}

		params := buildCallParams(settings, rc, apiKey, req)

		log.Info("attempting provider",
			"service", kind.String(), "role", string(role), "provider", rc.Provider, "model", rc.ModelID)

		raw, attemptErr := s.invokeWithRetry(ctx, baseLog, prov, kind, params, retryCfg)
		if attemptErr != nil {
			clean := NormalizeError(attemptErr)
			log.Error("provider attempt failed",
				"role", string(role), "provider", rc.Provider, "model", rc.ModelID, "error", clean)
			s.logProviderDiagnostics(rc.Provider, attemptErr)

			// A model that cannot do structured output at all is a caller
			// problem, not a transient one; switching roles will not fix it.
			if kind.isObject() && ClassifyError(attemptErr).Kind == ErrorKindCapability {
				return nil, fmt.Errorf(
					"model %q (provider %q, role %q) does not support structured output: %s",
					rc.ModelID, rc.Provider, role, clean)
			}

			lastErr = attemptErr
			lastClean = clean
			continue
		}

		return s.buildResponse(kind, settings, req, rc, raw), nil
	}

	if lastClean == "" {
		lastClean = fallbackErrorMessage
	}
	return nil, pkgerrors.New(lastClean)
}

// buildResponse projects the raw provider response into the caller-facing
// result, records telemetry when usage is present, and annotates tag info.
func (s *Service) buildResponse(kind serviceKind, settings *Settings, req Request, rc RoleConfig, raw any) *Response {
	resp := &Response{
		ProviderName: rc.Provider,
		ModelID:      rc.ModelID,
		TagInfo:      s.readTags(req.ProjectRoot),
	}

	var usage *provider.Usage
	switch kind {
	case kindGenerateText:
		result := raw.(*provider.Result)
		resp.MainResult = result.Text
		usage = result.Usage
	case kindGenerateObject:
		result := raw.(*provider.Result)
		resp.MainResult = result.Object
		usage = result.Usage
	case kindStreamText, kindStreamObject:
		result := raw.(*provider.StreamResult)
		resp.MainResult = result
		usage = result.Usage
	}

	if usage != nil {
		userID := req.Session["userId"]
		if userID == "" {
			userID = settings.UserID
		}
		resp.Telemetry = s.recordUsage(
			userID, req.CommandName, rc.Provider, rc.ModelID,
			usage.InputTokens, usage.OutputTokens, req.OutputType)
	}
	return resp
}

// readTags fetches the project tag context, falling back to the default tag
// on any failure. Strictly best-effort.
func (s *Service) readTags(projectRoot string) TagInfo {
	if s.tags == nil {
		return defaultTagInfo()
	}
	info, err := s.tags(projectRoot)
	if err != nil || info.CurrentTag == "" {
		return defaultTagInfo()
	}
	return info
}

// logProviderDiagnostics emits provider-specific guidance for known failure
// shapes. Side effects only; control flow never depends on it.
func (s *Service) logProviderDiagnostics(providerName string, err error) {
	if !strings.EqualFold(providerName, "claude-cli") {
		return
	}
	log := s.log.WithComponent("diagnostics")
	msg := strings.ToLower(NormalizeError(err))

	switch {
	case strings.Contains(msg, "raw mode is not supported"):
		log.Error("claude-cli interface incompatibility detected")
		log.Error("The CLI was driven without an interactive terminal. Use an API-backed provider for headless runs.")
	case exitCodeRe.MatchString(msg):
		m := exitCodeRe.FindStringSubmatch(msg)
		log.Error("claude-cli process failure", "exitCode", m[1])
	case strings.Contains(msg, "does not implement") || strings.Contains(msg, "invalid client type"):
		log.Error("claude-cli provider type mismatch; rebuild the plugin against the current module version")
	case strings.Contains(msg, "not logged in") || strings.Contains(msg, "authentication"):
		log.Error("claude-cli authentication failure; run 'claude auth' and retry")
	}
}
