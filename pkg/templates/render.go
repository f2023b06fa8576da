// pkg/templates/render.go
// Bounded template rendering
//
// Templates are parsed with missingkey=error so a typo in a data field fails
// the run instead of writing "<no value>" into a service config. Size and
// execution time are capped.

package templates

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"text/template"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxTemplateSize caps template source size.
	DefaultMaxTemplateSize = 1 * 1024 * 1024 // 1MB

	// DefaultTemplateTimeout caps template execution.
	DefaultTemplateTimeout = 30 * time.Second
)

// RenderOptions bound a single render.
type RenderOptions struct {
	MaxSize int64
	Timeout time.Duration
}

// DefaultRenderOptions returns the standard limits.
func DefaultRenderOptions() *RenderOptions {
	return &RenderOptions{
		MaxSize: DefaultMaxTemplateSize,
		Timeout: DefaultTemplateTimeout,
	}
}

// Renderer renders templates under the configured limits.
type Renderer struct {
	logger *zap.Logger
}

// NewRenderer creates a new template renderer
func NewRenderer(logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.L()
	}
	return &Renderer{
		logger: logger.Named("template-renderer"),
	}
}

// RenderString renders a named template from a string with the given data
func (r *Renderer) RenderString(ctx context.Context, name, tmplStr string, data any, opts *RenderOptions) ([]byte, error) {
	if opts == nil {
		opts = DefaultRenderOptions()
	}

	if int64(len(tmplStr)) > opts.MaxSize {
		r.logger.Error("Template size exceeds limit",
			zap.String("template", name),
			zap.Int("size", len(tmplStr)),
			zap.Int64("max_size", opts.MaxSize))
		return nil, fmt.Errorf("template %s size %d exceeds limit %d", name, len(tmplStr), opts.MaxSize)
	}

	renderCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	tmpl, err := template.New(name).Funcs(funcMap).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		r.logger.Error("Failed to parse template", zap.String("template", name), zap.Error(err))
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	resultChan := make(chan []byte, 1)
	errChan := make(chan error, 1)

	go func() {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			errChan <- fmt.Errorf("failed to execute template %s: %w", name, err)
			return
		}
		resultChan <- buf.Bytes()
	}()

	select {
	case <-renderCtx.Done():
		r.logger.Error("Template rendering timed out",
			zap.String("template", name),
			zap.Duration("timeout", opts.Timeout))
		return nil, fmt.Errorf("template %s rendering timed out after %s", name, opts.Timeout)
	case err := <-errChan:
		return nil, err
	case result := <-resultChan:
		r.logger.Debug("Template rendered successfully",
			zap.String("template", name),
			zap.Int("output_size", len(result)))
		return result, nil
	}
}

// RenderEmbedded renders a template from an embedded filesystem
func (r *Renderer) RenderEmbedded(ctx context.Context, fs embed.FS, templatePath string, data any, opts *RenderOptions) ([]byte, error) {
	r.logger.Debug("Rendering embedded template",
		zap.String("path", templatePath))

	tmplBytes, err := fs.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded template %s: %w", templatePath, err)
	}

	return r.RenderString(ctx, templatePath, string(tmplBytes), data, opts)
}

// funcMap defines template functions like 'default'
var funcMap = template.FuncMap{
	"default": func(def, val string) string {
		if val == "" {
			return def
		}
		return val
	},
	"jsString": func(s string) string {
		return fmt.Sprintf("%q", s)
	},
}
