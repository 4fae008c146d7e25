package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ricardoborges/nautilus/internal/errors"
)

func registerTerminal(d *Dispatcher, deps Deps) {
	term := deps.Terminal

	d.Register("terminal.create", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			SessionID    string `json:"sessionId"`
			ConnectionID string `json:"connectionId"`
			Cols         int    `json:"cols"`
			Rows         int    `json:"rows"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if p.Cols <= 0 {
			p.Cols = 80
		}
		if p.Rows <= 0 {
			p.Rows = 24
		}
		if err := term.Create(p.SessionID, p.ConnectionID, p.Cols, p.Rows); err != nil {
			return nil, err
		}
		return map[string]string{"sessionId": p.SessionID}, nil
	})

	d.Register("terminal.write", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			SessionID string `json:"sessionId"`
			Data      string `json:"data"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return nil, term.Write(p.SessionID, []byte(p.Data))
	})

	d.Register("terminal.resize", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			SessionID string `json:"sessionId"`
			Cols      int    `json:"cols"`
			Rows      int    `json:"rows"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return nil, term.Resize(p.SessionID, p.Cols, p.Rows)
	})

	d.Register("terminal.stop", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			SessionID string `json:"sessionId"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		return nil, term.Stop(p.SessionID)
	})

	d.Register("terminal.list", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return term.List(), nil
	})
}

func registerMetrics(d *Dispatcher, deps Deps) {
	poller := deps.Metrics

	d.Register("metrics.start", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			ConnectionID string `json:"connectionId"`
			IntervalMs   int    `json:"intervalMs"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if p.IntervalMs != 0 && p.IntervalMs < 500 {
			return nil, errors.New(errors.ErrValidation,
				"intervalMs must be at least 500")
		}
		interval := time.Duration(p.IntervalMs) * time.Millisecond
		if err := poller.Start(p.ConnectionID, interval); err != nil {
			return nil, err
		}
		return map[string]string{"connectionId": p.ConnectionID}, nil
	})

	d.Register("metrics.stop", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		poller.Stop()
		return nil, nil
	})
}
