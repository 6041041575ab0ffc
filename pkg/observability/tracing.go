package observability

import "context"

// Span is a minimal tracing span, opened with StartSpan and closed with End;
// no package in this module calls StartSpan. Attributes are informational
// only in this in-process implementation.
type Span interface {
	SetAttribute(key string, value interface{})
	RecordError(err error)
	End()
}

type span struct {
	name  string
	attrs map[string]interface{}
}

// StartSpan starts a span named name. There is no exporter wired up in this
// module; the span exists so call sites read exactly like a traced
// production service,
// and so a real exporter can be dropped in later without touching call
// sites.
func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &span{name: name, attrs: make(map[string]interface{})}
}

func (s *span) SetAttribute(key string, value interface{}) { s.attrs[key] = value }
func (s *span) RecordError(err error)                       {}
func (s *span) End()                                         {}
