package sinks

import (
	"fmt"
	"io"
	"os"

	"github.com/Route-Sim/VISTA-sub000/logging"
)

const (
	NameConsole = "console"
	NameJSON    = "json"
	NameMemory  = "memory"
	NameZap     = "zap"
)

// Build instantiates the sinks enabled in cfg. Console output goes to
// stdout; the JSON sink writes to cfg.JSON.FilePath or stdout when unset.
// The returned closer releases any file the JSON sink opened.
func Build(cfg logging.Config, stdout io.Writer) ([]logging.NamedSink, func() error, error) {
	if stdout == nil {
		stdout = os.Stdout
	}
	var (
		named []logging.NamedSink
		files []*os.File
	)
	closer := func() error {
		var firstErr error
		for _, f := range files {
			if err := f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	for _, name := range cfg.EnabledSinks {
		switch name {
		case NameConsole:
			named = append(named, logging.NamedSink{Name: name, Sink: NewConsoleSink(stdout, cfg.Console)})
		case NameJSON:
			var w io.Writer = stdout
			if cfg.JSON.FilePath != "" {
				f, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					closer()
					return nil, nil, fmt.Errorf("open json log %q: %w", cfg.JSON.FilePath, err)
				}
				files = append(files, f)
				w = f
			}
			named = append(named, logging.NamedSink{Name: name, Sink: NewJSON(w, cfg.JSON.FlushInterval)})
		case NameMemory:
			named = append(named, logging.NamedSink{Name: name, Sink: NewMemorySink()})
		case NameZap:
			sink, err := NewZap(nil)
			if err != nil {
				closer()
				return nil, nil, fmt.Errorf("build zap sink: %w", err)
			}
			named = append(named, logging.NamedSink{Name: name, Sink: sink})
		default:
			closer()
			return nil, nil, fmt.Errorf("unknown log sink %q", name)
		}
	}
	return named, closer, nil
}
