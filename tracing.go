package main

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// tracer is used for spans around surroundings, noise and potential stages
var tracer trace.Tracer = noop.NewTracerProvider().Tracer(progName)

/*
initTracing installs the global tracer. Enabled tracing writes spans as JSON to filename
(stdout if empty). The returned function flushes and stops the provider.
*/
func initTracing(enabled bool, filename string) (func(context.Context) error, error) {
	if !enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		tracer = otel.Tracer(progName)
		return func(context.Context) error { return nil }, nil
	}

	options := []stdouttrace.Option{}
	var file *os.File
	if filename != "" {
		var err error
		file, err = os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("error [%w] at os.OpenFile(), file %s", err, filename)
		}
		options = append(options, stdouttrace.WithWriter(file))
	}
	exporter, err := stdouttrace.New(options...)
	if err != nil {
		return nil, fmt.Errorf("error [%w] at stdouttrace.New()", err)
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	tracer = provider.Tracer(progName)

	return func(ctx context.Context) error {
		err := provider.Shutdown(ctx)
		if file != nil {
			_ = file.Close()
		}
		return err
	}, nil
}
