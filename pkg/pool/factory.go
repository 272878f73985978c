package pool

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/stockpile/pkg/stockpileerrors"
)

// Factory builds fresh instances for a Pool. New may be slow; the pool calls
// it either on the acquire path when the free list is empty or from Tick.
type Factory[T any] interface {
	New(ctx context.Context) (T, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc[T any] func(ctx context.Context) (T, error)

// New calls f(ctx).
func (f FactoryFunc[T]) New(ctx context.Context) (T, error) {
	return f(ctx)
}

// Fresh wraps a constructor that cannot fail.
func Fresh[T any](newFn func() T) Factory[T] {
	return FactoryFunc[T](func(context.Context) (T, error) {
		return newFn(), nil
	})
}

// Format is the encoding of a Blueprint document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks a Format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "unsupported blueprint extension").
		WithDetail("path", path)
}

// Blueprint is a Factory that builds each instance by decoding a template
// document into a fresh *T. The document is checked once when the blueprint
// is created, so later decodes only fail if ctx is done.
type Blueprint[T any] struct {
	name   string
	format Format
	raw    []byte
}

// NewBlueprint validates raw against T and returns a factory for it.
func NewBlueprint[T any](name string, raw []byte, format Format) (*Blueprint[T], error) {
	if format != FormatYAML && format != FormatJSON {
		return nil, stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "unsupported blueprint format").
			WithDetail("format", string(format))
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, stockpileerrors.New(stockpileerrors.ErrorTypeValidation, "blueprint is empty").
			WithDetail("blueprint", name)
	}

	b := &Blueprint[T]{
		name:   name,
		format: format,
		raw:    append([]byte(nil), raw...),
	}
	if err := b.decode(new(T)); err != nil {
		return nil, stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeValidation, "invalid blueprint").
			WithDetail("blueprint", name)
	}
	return b, nil
}

// LoadBlueprint reads a YAML or JSON template from path. The format follows
// the file extension and the blueprint is named after the file. A trailing
// .gz or .zst marks a gzip or zstd compressed template, e.g. ember.yaml.gz.
func LoadBlueprint[T any](path string) (*Blueprint[T], error) {
	base := path
	codec := strings.ToLower(filepath.Ext(path))
	if codec == ".gz" || codec == ".zst" {
		base = strings.TrimSuffix(path, filepath.Ext(path))
	}
	format, err := FormatFromPath(base)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeFile, "read blueprint").
			WithDetail("path", path)
	}
	if raw, err = decompress(codec, raw); err != nil {
		return nil, stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeFile, "decompress blueprint").
			WithDetail("path", path)
	}
	name := strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
	return NewBlueprint[T](name, raw, format)
}

func decompress(codec string, raw []byte) ([]byte, error) {
	switch codec {
	case ".gz":
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case ".zst":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(raw, nil)
	default:
		return raw, nil
	}
}

// Name returns the blueprint name.
func (b *Blueprint[T]) Name() string {
	return b.name
}

// New decodes the template into a fresh instance.
func (b *Blueprint[T]) New(ctx context.Context) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := new(T)
	if err := b.decode(v); err != nil {
		return nil, stockpileerrors.Wrap(err, stockpileerrors.ErrorTypeFactory, "decode blueprint").
			WithDetail("blueprint", b.name)
	}
	return v, nil
}

func (b *Blueprint[T]) decode(v *T) error {
	if b.format == FormatJSON {
		return json.Unmarshal(b.raw, v)
	}
	return yaml.Unmarshal(b.raw, v)
}
