package plugins

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/charlink/internal/protocol/dispatch"
)

var (
	ErrNilPlugin       = errors.New("plugins: nil plugin")
	ErrDuplicatePlugin = errors.New("plugins: duplicate plugin name")
	ErrOpcodeClaimed   = errors.New("plugins: opcode claimed by two plugins")
)

// Registrar is where plugin handlers are installed; *link.Supervisor is one.
type Registrar interface {
	Handle(op uint16, h dispatch.Handler) error
}

type Registry struct {
	mu   sync.RWMutex
	repo map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{repo: make(map[string]Plugin)}
}

func (r *Registry) Register(p Plugin) error {
	if p == nil {
		return ErrNilPlugin
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.repo[p.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.Name())
	}
	r.repo[p.Name()] = p
	return nil
}

func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.repo[name]
	return p, ok
}

// All returns the registered plugins sorted by name.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	out := make([]Plugin, 0, len(r.repo))
	for _, p := range r.repo {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Install registers every plugin handler on dst and returns how many were
// installed. Two plugins claiming one opcode is an error; nothing is
// installed in that case.
func (r *Registry) Install(dst Registrar) (int, error) {
	owners := make(map[uint16]string)
	routes := make(map[uint16]dispatch.Handler)
	for _, p := range r.All() {
		for op, h := range p.Handlers() {
			if prev, ok := owners[op]; ok {
				return 0, fmt.Errorf("%w: 0x%04x by %s and %s", ErrOpcodeClaimed, op, prev, p.Name())
			}
			owners[op] = p.Name()
			routes[op] = h
		}
	}
	ops := make([]uint16, 0, len(routes))
	for op := range routes {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	for _, op := range ops {
		if err := dst.Handle(op, routes[op]); err != nil {
			return 0, fmt.Errorf("plugins: install %s: %w", owners[op], err)
		}
	}
	return len(ops), nil
}
