package dispatch

import (
	"context"
	"encoding/json"

	"github.com/ricardoborges/nautilus/internal/registry"
)

// connRef identifies a connection in handler arguments.
type connRef struct {
	ID string `json:"id"`
}

func registerConnections(d *Dispatcher, deps Deps) {
	reg := deps.Registry

	d.Register("connections.list", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return reg.List(), nil
	})

	d.Register("connections.add", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var c registry.Connection
		if err := decode(args, &c); err != nil {
			return nil, err
		}
		return reg.Add(c)
	})

	d.Register("connections.update", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var c registry.Connection
		if err := decode(args, &c); err != nil {
			return nil, err
		}
		if err := reg.Update(c); err != nil {
			return nil, err
		}
		return c, nil
	})

	d.Register("connections.remove", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var ref connRef
		if err := decode(args, &ref); err != nil {
			return nil, err
		}
		if err := reg.Remove(ref.ID); err != nil {
			return nil, err
		}
		return map[string]string{"id": ref.ID}, nil
	})

	d.Register("connections.setSecret", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var p struct {
			ID     string `json:"id"`
			Secret string `json:"secret"`
		}
		if err := decode(args, &p); err != nil {
			return nil, err
		}
		if err := reg.SetSecret(p.ID, p.Secret); err != nil {
			return nil, err
		}
		return map[string]string{"id": p.ID}, nil
	})

	d.Register("connections.getSecret", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var ref connRef
		if err := decode(args, &ref); err != nil {
			return nil, err
		}
		secret, err := reg.GetSecret(ref.ID)
		if err != nil {
			return nil, err
		}
		return map[string]string{"secret": secret}, nil
	})
}
