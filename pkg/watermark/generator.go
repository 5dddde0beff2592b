package watermark

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/CodeTease/wmcache/pkg/metrics"
	"github.com/CodeTease/wmcache/pkg/settings"
	"github.com/CodeTease/wmcache/pkg/storage"
	"github.com/CodeTease/wmcache/pkg/telemetry"
)

// Generator produces one derivative synchronously: read, composite, write.
type Generator struct {
	store    storage.BlobStore
	renderer Renderer
}

func NewGenerator(store storage.BlobStore, renderer Renderer) *Generator {
	return &Generator{store: store, renderer: renderer}
}

// Generate writes the derivative of original under s and returns its path.
// Errors are *SourceNotFoundError or *ImageProcessingError.
func (g *Generator) Generate(ctx context.Context, original string, s settings.Snapshot) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "watermark.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("image.path", original))

	start := time.Now()
	defer func() {
		metrics.GenerateDuration.Observe(time.Since(start).Seconds())
	}()

	path, err := g.generate(ctx, original, s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var procErr *ImageProcessingError
		if errors.As(err, &procErr) {
			metrics.GenerateErrorsTotal.WithLabelValues(procErr.Op).Inc()
		} else {
			metrics.GenerateErrorsTotal.WithLabelValues("source").Inc()
		}
		return "", err
	}
	span.SetAttributes(attribute.String("derivative.path", path))
	return path, nil
}

func (g *Generator) generate(ctx context.Context, original string, s settings.Snapshot) (string, error) {
	src, err := g.store.Read(ctx, original)
	if errors.Is(err, storage.ErrNotFound) {
		return "", &SourceNotFoundError{Path: original}
	}
	if err != nil {
		return "", &ImageProcessingError{Op: "read", Path: original, Err: err}
	}

	out, err := g.renderer.Composite(ctx, src, original, s)
	if err != nil {
		return "", err
	}

	derivative := DerivativePath(original, s)
	if err := g.store.Write(ctx, derivative, out); err != nil {
		return "", &ImageProcessingError{Op: "write", Path: derivative, Err: err}
	}
	return derivative, nil
}
