// Package otel provides tracing helpers shared by the SSH transport packages.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tasktally/tasktally-ssh/internal/errs"
)

// Attribute keys used on transport spans. Values never carry key material.
const (
	AttrOperationID   = attribute.Key("tasktally.operation_id")
	AttrOperation     = attribute.Key("git.operation")
	AttrBranch        = attribute.Key("git.branch")
	AttrPushed        = attribute.Key("git.pushed")
	AttrHost          = attribute.Key("ssh.host")
	AttrPort          = attribute.Key("ssh.port")
	AttrHostKeyPolicy = attribute.Key("ssh.host_key_policy")
	AttrHostKeyCount  = attribute.Key("ssh.host_key.count")
	AttrCredential    = attribute.Key("credential.name")
	AttrErrorKind     = attribute.Key("error.kind")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span, tags it with the error kind and marks the span failed.
// The status description stays generic; errors can name hosts and paths.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(AttrErrorKind.String(errs.KindOf(err).String()))
	span.SetStatus(codes.Error, "operation failed")
}
