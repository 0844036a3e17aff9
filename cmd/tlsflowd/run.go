package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tlsflow/tlsflow/pkg/anon"
	"github.com/tlsflow/tlsflow/pkg/bytedist"
	"github.com/tlsflow/tlsflow/pkg/config"
	"github.com/tlsflow/tlsflow/pkg/dnsinspect"
	"github.com/tlsflow/tlsflow/pkg/engine"
	"github.com/tlsflow/tlsflow/pkg/logging"
	"github.com/tlsflow/tlsflow/pkg/metrics"
	"github.com/tlsflow/tlsflow/pkg/ndjson"
	"github.com/tlsflow/tlsflow/pkg/observer"
	"github.com/tlsflow/tlsflow/pkg/pcapsrc"
	"github.com/tlsflow/tlsflow/pkg/tlsinspect"
	"github.com/tlsflow/tlsflow/pkg/wire"
)

const defaultHighWaterMark = 1_000_000

// captureError marks a failure reading the packet source, as opposed
// to a configuration or setup error, so main can exit with a
// distinguishable status code.
type captureError struct{ err error }

func (e *captureError) Error() string { return e.err.Error() }
func (e *captureError) Unwrap() error { return e.err }

func run(cfg *config.Config) error {
	if err := logging.Init("dev", cfg.Verbosity, "logfmt"); err != nil {
		return fmt.Errorf("tlsflowd: init logging: %w", err)
	}
	logger := logging.Logger()

	shared, err := buildShared(cfg)
	if err != nil {
		return err
	}
	defer shared.Sink.Close()

	rt := engine.NewRuntime(cfg.Contexts, shared)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt.Start(ctx)

	src, err := pcapsrc.Open(cfg.Input)
	if err != nil {
		return &captureError{err: fmt.Errorf("tlsflowd: %w", err)}
	}
	defer src.Close()

	read, decoded, malformed := 0, 0, 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown requested, draining flows")
			rt.Wait()
			return nil
		default:
		}

		raw, err := src.Next()
		if errors.Is(err, io.EOF) {
			stop()
			rt.Wait()
			logger.Info("finished reading input", "packets_read", read, "packets_decoded", decoded, "packets_malformed", malformed)
			return nil
		}
		if err != nil {
			return &captureError{err: fmt.Errorf("tlsflowd: read %s: %w", cfg.Input, err)}
		}
		read++

		pkt, err := wire.Decode(raw.Data, raw.TotalLen)
		if err != nil {
			malformed++
			metrics.PacketsMalformed.Inc()
			continue
		}
		decoded++
		rt.Submit(pkt, raw.Time)
	}
}

func buildShared(cfg *config.Config) (*engine.Shared, error) {
	var (
		key       *anon.Key
		subnets   *anon.SubnetSet
		usernames *anon.UsernameSet
		err       error
	)
	if cfg.Keyfile != "" {
		key, err = anon.LoadOrCreate(cfg.Keyfile)
		if err != nil {
			return nil, fmt.Errorf("tlsflowd: %w", err)
		}
	}
	if cfg.AnonAddrsFile != "" {
		subnets, err = anon.LoadSubnetFile(cfg.AnonAddrsFile)
		if err != nil {
			return nil, fmt.Errorf("tlsflowd: %w", err)
		}
	}
	if cfg.AnonHTTPFile != "" {
		usernames, err = anon.LoadUsernameFile(cfg.AnonHTTPFile)
		if err != nil {
			return nil, fmt.Errorf("tlsflowd: %w", err)
		}
	}

	var observers []observer.Observer
	if cfg.ReportTLS {
		observers = append(observers, tlsinspect.New())
	}
	if cfg.ReportDNS {
		observers = append(observers, dnsinspect.New())
	}
	if cfg.ReportDist || cfg.ReportEntropy {
		observers = append(observers, bytedist.New())
	}
	// ReportHTTP, ReportWHT, ReportHD, and ReportExe are accepted
	// config keys with no observer body: HTTP header capture, the
	// Walsh-Hadamard transform sketch, and executable-section
	// reporting are dispatch-contract placeholders only, per
	// SPEC_FULL.md §2.

	sink, err := newSink(cfg)
	if err != nil {
		return nil, err
	}

	return &engine.Shared{
		AnonKey:        key,
		AnonSubnets:    subnets,
		AnonUsers:      usernames,
		Dispatcher:     observer.NewDispatcher(observers...),
		Sink:           sink,
		Bidir:          cfg.Bidir,
		NAT:            cfg.NAT,
		HighWater:      defaultHighWaterMark,
		IdleTimeout:    time.Duration(cfg.IdleTimeoutMs) * time.Millisecond,
		PreemptTimeout: time.Duration(cfg.PreemptiveTimeout) * time.Millisecond,
	}, nil
}

func newSink(cfg *config.Config) (*ndjson.Sink, error) {
	if cfg.Output == "" {
		return ndjson.NewWriterSink(os.Stdout), nil
	}
	return ndjson.NewFileSink(cfg.Output, cfg.OutputCompress)
}
