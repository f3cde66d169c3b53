package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prasad/loghub/internal/collector"
	"github.com/prasad/loghub/internal/errkind"
)

func (s *Server) collectorToggle(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, errkind.New(errkind.Validation, fmt.Errorf("rpcserver: name is required"))
	}
	if err := s.registry.Toggle(p.Name, p.Enabled); err != nil {
		return nil, errkind.New(errkind.NotFound, err)
	}
	return map[string]any{"ok": true}, nil
}

// collectorUpdateConfig applies a JSON-merge-patch (RFC 7386 semantics:
// only keys present in patch are changed) to the named collector's
// adapter-specific config. Adapters that don't expose mutable config
// reject the call with NotFound.
func (s *Server) collectorUpdateConfig(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Name  string         `json:"name"`
		Patch map[string]any `json:"patch"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, errkind.New(errkind.Validation, fmt.Errorf("rpcserver: name is required"))
	}

	rt, ok := s.registry.Get(p.Name)
	if !ok {
		return nil, errkind.New(errkind.NotFound, fmt.Errorf("rpcserver: unknown collector %q", p.Name))
	}
	configurable, ok := rt.AdapterAs().(collector.Configurable)
	if !ok {
		return nil, errkind.New(errkind.NotFound, fmt.Errorf("rpcserver: collector %q has no configurable settings", p.Name))
	}
	if err := configurable.UpdateConfig(p.Patch); err != nil {
		return nil, errkind.New(errkind.Validation, err)
	}
	return map[string]any{"ok": true}, nil
}
