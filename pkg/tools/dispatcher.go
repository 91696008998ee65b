// Package tools exposes the fixed tool surface and its dispatcher. Every
// call runs the same guardrail chain: size bounds, injection scan, schema
// validation, budget, loop detection, then the handler, and always exactly
// one audit entry.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tagwarden/tagwarden/pkg/audit"
	"github.com/tagwarden/tagwarden/pkg/cache"
	"github.com/tagwarden/tagwarden/pkg/catalog"
	"github.com/tagwarden/tagwarden/pkg/cloud"
	"github.com/tagwarden/tagwarden/pkg/compliance"
	"github.com/tagwarden/tagwarden/pkg/cost"
	"github.com/tagwarden/tagwarden/pkg/guard"
	"github.com/tagwarden/tagwarden/pkg/history"
	"github.com/tagwarden/tagwarden/pkg/policy"
	"github.com/tagwarden/tagwarden/pkg/scanner"
	"github.com/tagwarden/tagwarden/pkg/suggest"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 5 * time.Minute

type correlationKey struct{}

// CorrelationID reads the per-call correlation id from the context.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// Services is the container the dispatcher routes into. It is constructed
// once at startup and passed by reference; nothing here is a global.
type Services struct {
	Scanner    *scanner.Scanner
	Policies   *policy.Store
	Compliance *compliance.Service
	Cost       *cost.Service // nil disables cost enrichment and the gap tool
	Suggest    *suggest.Service
	Cache      *cache.Cache
	Guard      *guard.Guard
	Audit      *audit.Store
	History    *history.Store
	Catalog    *catalog.Catalog

	// Clients serves tools that need a region-bound cloud client outside a
	// scan (tag validation, suggestions).
	Clients       scanner.ClientSource
	CostRegion    string
	DefaultRegion string
	AccountID     string

	// ComplianceTTL bounds how long a compliance result is served from cache.
	ComplianceTTL time.Duration

	Logger *slog.Logger
}

type handlerFunc func(ctx context.Context, args map[string]any) Outcome

// Dispatcher owns the static tool table and the guardrail chain.
type Dispatcher struct {
	svc      Services
	schemas  map[string]*jsonschema.Schema
	handlers map[string]handlerFunc
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewDispatcher compiles the schemas and wires the handler table.
func NewDispatcher(svc Services, timeout time.Duration) (*Dispatcher, error) {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if svc.Logger == nil {
		svc.Logger = slog.Default()
	}
	if svc.ComplianceTTL <= 0 {
		svc.ComplianceTTL = time.Hour
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		svc:     svc,
		schemas: schemas,
		timeout: timeout,
		logger:  svc.Logger,
		tracer:  otel.Tracer("tagwarden/tools"),
	}
	d.handlers = map[string]handlerFunc{
		"check_tag_compliance":       d.checkTagCompliance,
		"find_untagged_resources":    d.findUntaggedResources,
		"validate_resource_tags":     d.validateResourceTags,
		"get_cost_attribution_gap":   d.costAttributionGap,
		"suggest_tags":               d.suggestTags,
		"get_tagging_policy":         d.getTaggingPolicy,
		"generate_compliance_report": d.generateReport,
		"get_violation_history":      d.violationHistory,
	}
	return d, nil
}

// ToolNames returns the fixed tool set, for server registration.
func (d *Dispatcher) ToolNames() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// SchemaJSON returns the raw argument schema for a tool.
func (d *Dispatcher) SchemaJSON(tool string) (string, bool) {
	src, ok := schemaSources[tool]
	return src, ok
}

// Dispatch runs one tool call end to end. It never returns a Go error; every
// failure mode is a tagged outcome, and every invocation lands exactly one
// audit entry.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, tool string, raw json.RawMessage) Outcome {
	start := time.Now()
	corrID := uuid.NewString()
	ctx = context.WithValue(ctx, correlationKey{}, corrID)

	ctx, span := d.tracer.Start(ctx, "Tools.Dispatch",
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("correlation_id", corrID),
		))
	defer span.End()

	out, params := d.dispatch(ctx, sessionID, tool, raw)
	out.CorrelationID = corrID
	out.DurationMS = time.Since(start).Milliseconds()

	if out.Status != StatusOK {
		span.SetStatus(codes.Error, string(out.Status))
	}
	d.appendAudit(corrID, sessionID, tool, params, out)
	return out
}

// dispatch is the guardrail chain. The returned params string is what the
// audit entry stores.
func (d *Dispatcher) dispatch(ctx context.Context, sessionID, tool string, raw json.RawMessage) (Outcome, string) {
	handler, known := d.handlers[tool]
	if !known {
		d.logger.Warn("unknown tool rejected",
			"tool", tool, "session_id", sessionID, "correlation_id", CorrelationID(ctx))
		return ValidationFailed("tool", "unknown tool name"), audit.CanonicalParams(map[string]string{"tool": tool})
	}

	if err := guard.CheckBody(len(raw)); err != nil {
		return ValidationFailed("(body)", err.Error()), "[rejected: oversized body]"
	}

	args := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return ValidationFailed("(body)", "arguments must be a JSON object"), "[rejected: malformed body]"
		}
	}
	params := audit.CanonicalParams(args)

	if err := guard.CheckArgs(args); err != nil {
		return ValidationFailed("(args)", err.Error()), "[rejected: input bounds]"
	}
	if err := guard.ScanArgs(args); err != nil {
		kind := guard.ViolationKind(err)
		d.logger.Warn("injection pattern rejected",
			"tool", tool, "violation_kind", kind, "correlation_id", CorrelationID(ctx))
		return SecurityRejected(kind), audit.SecurityParams(kind)
	}

	unwrapEnumArrays(tool, args)
	if err := d.schemas[tool].Validate(args); err != nil {
		field, reason := validationDetail(err)
		return ValidationFailed(field, reason), params
	}

	if !d.svc.Guard.CheckBudget(ctx, sessionID) {
		return BudgetExhausted(d.svc.Guard.Budget()), params
	}
	if !d.svc.Guard.CheckLoop(ctx, sessionID, tool, args) {
		return LoopDetected(), params
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out := handler(ctx, args)
	if out.Status == StatusOK && ctx.Err() != nil {
		out = TimedOut()
	}
	return out, params
}

// appendAudit records the invocation. Audit failure is already logged inside
// the store; the response is never blocked on it.
func (d *Dispatcher) appendAudit(corrID, sessionID, tool, params string, out Outcome) {
	if d.svc.Audit == nil {
		return
	}
	// Audit writes get their own short deadline so a wedged disk cannot hold
	// the response hostage.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = d.svc.Audit.Append(ctx, audit.Entry{
		CorrelationID: corrID,
		SessionID:     sessionID,
		Tool:          tool,
		Params:        params,
		Success:       out.Status == StatusOK,
		ErrorCode:     out.errorCode(),
		DurationMS:    out.DurationMS,
	})
}

// outcomeFromError maps handler-level errors to outcomes. Handlers call this
// instead of returning raw errors.
func outcomeFromError(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TimedOut()
	}
	var ae *cloud.APIError
	if errors.As(err, &ae) {
		return CloudFailed(ae.Region, err)
	}
	return InternalFailed()
}

// decodeArgs maps the validated argument object onto a typed struct.
func decodeArgs(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
