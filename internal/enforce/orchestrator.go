// Package enforce applies decision point verdicts to resource operations.
//
// Every operation runs the same sequence: build the principal, optionally
// fetch the target record(s), describe them, ask the decision point and turn
// the verdict into an Outcome. Routes only differ in the parameters of that
// sequence.
package enforce

import (
	"context"
	"errors"
	"fmt"

	"github.com/dhawalhost/contactguard/internal/authz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrNotFound is returned (possibly wrapped) by a Fetcher when the requested
// record does not exist.
var ErrNotFound = errors.New("record not found")

// Record is anything that can expose itself as decision attributes. The
// attributes must include "id".
type Record interface {
	Attributes() authz.Attributes
}

// Fetcher loads the records an operation targets.
type Fetcher[T Record] interface {
	FindOne(ctx context.Context, id string) (T, error)
	Find(ctx context.Context) ([]T, error)
}

// Route parameterizes one operation.
type Route struct {
	Kind   string
	Action string
	// PreFetch loads the target before authorization. Operations on resources
	// that do not exist yet leave it false.
	PreFetch bool
	// Batch authorizes the whole collection and keeps the allowed subset.
	Batch bool
}

func (r Route) validate() error {
	if r.Kind == "" || r.Action == "" {
		return errors.New("route needs a kind and an action")
	}
	if r.Batch && !r.PreFetch {
		return errors.New("batch routes must pre-fetch the collection")
	}
	return nil
}

// Status is the terminal state of an operation.
type Status int

const (
	StatusAllowed Status = iota + 1
	StatusNotFound
	StatusForbidden
)

func (s Status) String() string {
	switch s {
	case StatusAllowed:
		return "allowed"
	case StatusNotFound:
		return "not_found"
	case StatusForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Outcome is what an operation produced. Record is set for allowed single
// resource routes that pre-fetch; Records for allowed batch routes.
type Outcome[T Record] struct {
	Status  Status
	Record  T
	Records []T
}

// Precedence decides what a caller learns about a record that does not exist.
type Precedence int

const (
	// NotFoundFirst answers 404 for missing records without consulting the
	// decision point.
	NotFoundFirst Precedence = iota
	// ForbiddenFirst asks the decision point about a bare descriptor of the
	// missing record and only reveals the miss when that is allowed.
	ForbiddenFirst
)

func (p Precedence) String() string {
	if p == ForbiddenFirst {
		return "forbidden"
	}
	return "not_found"
}

// ParsePrecedence maps configuration values to a Precedence.
func ParsePrecedence(s string) (Precedence, error) {
	switch s {
	case "", "not_found":
		return NotFoundFirst, nil
	case "forbidden":
		return ForbiddenFirst, nil
	default:
		return NotFoundFirst, fmt.Errorf("unknown precedence %q", s)
	}
}

// Option customizes an Orchestrator.
type Option func(*options)

type options struct {
	precedence Precedence
	tracer     trace.Tracer
}

// WithPrecedence sets the missing-record policy. The default is NotFoundFirst.
func WithPrecedence(p Precedence) Option {
	return func(o *options) { o.precedence = p }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// Orchestrator runs routes against a Fetcher and a decision point. It keeps
// no per-request state.
type Orchestrator[T Record] struct {
	fetcher Fetcher[T]
	client  authz.Client
	logger  *zap.Logger
	opts    options
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator[T Record](fetcher Fetcher[T], client authz.Client, logger *zap.Logger, opts ...Option) *Orchestrator[T] {
	o := options{precedence: NotFoundFirst}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("github.com/dhawalhost/contactguard/internal/enforce")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator[T]{fetcher: fetcher, client: client, logger: logger, opts: o}
}

// Execute runs route for the caller identified by claims. id names the target
// for single resource routes that pre-fetch and is ignored otherwise.
//
// Errors are reserved for failures: authz.ErrInvalidPrincipal,
// authz.ErrDecisionUnavailable, and store errors. Denials and missing records
// are Outcomes.
func (o *Orchestrator[T]) Execute(ctx context.Context, route Route, claims map[string]any, id string) (out Outcome[T], err error) {
	if err := route.validate(); err != nil {
		return Outcome[T]{}, err
	}

	ctx, span := o.opts.tracer.Start(ctx, "enforce."+route.Action, trace.WithAttributes(
		attribute.String("authz.kind", route.Kind),
		attribute.String("authz.action", route.Action),
		attribute.Bool("authz.batch", route.Batch),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("authz.outcome", out.Status.String()))
		}
		span.End()
	}()

	principal, err := authz.ToPrincipal(claims)
	if err != nil {
		return Outcome[T]{}, err
	}

	switch {
	case route.Batch:
		out, err = o.executeBatch(ctx, route, principal)
	case route.PreFetch:
		out, err = o.executeFetched(ctx, route, principal, id)
	default:
		out, err = o.executeUnfetched(ctx, route, principal)
	}
	if err == nil {
		o.logger.Debug("Authorization outcome",
			zap.String("principal", principal.ID),
			zap.String("kind", route.Kind),
			zap.String("action", route.Action),
			zap.String("resource_id", id),
			zap.Stringer("outcome", out.Status),
		)
	}
	return out, err
}

func (o *Orchestrator[T]) executeUnfetched(ctx context.Context, route Route, p authz.Principal) (Outcome[T], error) {
	resource := authz.ToResource(route.Kind, nil, authz.NewResourceID)
	allowed, err := o.decide(ctx, route, p, resource)
	if err != nil {
		return Outcome[T]{}, err
	}
	if !allowed {
		return Outcome[T]{Status: StatusForbidden}, nil
	}
	return Outcome[T]{Status: StatusAllowed}, nil
}

func (o *Orchestrator[T]) executeFetched(ctx context.Context, route Route, p authz.Principal, id string) (Outcome[T], error) {
	record, err := o.fetcher.FindOne(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return o.missing(ctx, route, p, id)
	}
	if err != nil {
		return Outcome[T]{}, fmt.Errorf("fetch %s %s: %w", route.Kind, id, err)
	}

	allowed, err := o.decide(ctx, route, p, authz.ToResource(route.Kind, record.Attributes(), id))
	if err != nil {
		return Outcome[T]{}, err
	}
	if !allowed {
		return Outcome[T]{Status: StatusForbidden}, nil
	}
	return Outcome[T]{Status: StatusAllowed, Record: record}, nil
}

func (o *Orchestrator[T]) missing(ctx context.Context, route Route, p authz.Principal, id string) (Outcome[T], error) {
	if o.opts.precedence == NotFoundFirst {
		return Outcome[T]{Status: StatusNotFound}, nil
	}
	allowed, err := o.decide(ctx, route, p, authz.ToResource(route.Kind, nil, id))
	if err != nil {
		return Outcome[T]{}, err
	}
	if !allowed {
		return Outcome[T]{Status: StatusForbidden}, nil
	}
	return Outcome[T]{Status: StatusNotFound}, nil
}

func (o *Orchestrator[T]) executeBatch(ctx context.Context, route Route, p authz.Principal) (Outcome[T], error) {
	records, err := o.fetcher.Find(ctx)
	if err != nil {
		return Outcome[T]{}, fmt.Errorf("list %s: %w", route.Kind, err)
	}
	if len(records) == 0 {
		return Outcome[T]{Status: StatusAllowed, Records: []T{}}, nil
	}

	items := make([]authz.BatchItem, 0, len(records))
	for _, rec := range records {
		items = append(items, authz.BatchItem{
			Resource: authz.ToResource(route.Kind, rec.Attributes(), ""),
			Actions:  []string{route.Action},
		})
	}

	bd, err := o.client.CheckResources(ctx, p, items)
	if err != nil {
		return Outcome[T]{}, err
	}

	mask := authz.AllowedMask(bd, items, route.Action)
	allowed := make([]T, 0, len(records))
	for i, rec := range records {
		if mask[i] {
			allowed = append(allowed, rec)
		}
	}
	return Outcome[T]{Status: StatusAllowed, Records: allowed}, nil
}

func (o *Orchestrator[T]) decide(ctx context.Context, route Route, p authz.Principal, r authz.Resource) (bool, error) {
	d, err := o.client.CheckResource(ctx, p, r, []string{route.Action})
	if err != nil {
		return false, err
	}
	return authz.IsAllowed(d, route.Action), nil
}
