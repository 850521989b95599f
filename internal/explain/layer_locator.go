package explain

import (
	"errors"
	"strconv"
	"strings"

	"github.com/timmy/dmi/internal/inference"
)

// ErrNoTargetLayer is returned when no strategy finds a usable layer.
var ErrNoTargetLayer = errors.New("no suitable target layer")

// layerIndex answers structural questions over a flat list of dotted module
// names in registration order.
type layerIndex struct {
	names []string
	set   map[string]bool
}

func newLayerIndex(layers []inference.LayerDescriptor) *layerIndex {
	idx := &layerIndex{set: make(map[string]bool, len(layers))}
	for _, l := range layers {
		if l.Name == "" || idx.set[l.Name] {
			continue
		}
		idx.names = append(idx.names, l.Name)
		idx.set[l.Name] = true
	}
	return idx
}

func (l *layerIndex) has(name string) bool {
	return l.set[name]
}

// lastChild returns the highest numeric child index under prefix, as in
// "encoder.layers.3" for prefix "encoder.layers".
func (l *layerIndex) lastChild(prefix string) (string, bool) {
	best := -1
	for _, n := range l.names {
		rest, ok := strings.CutPrefix(n, prefix+".")
		if !ok {
			continue
		}
		head, _, _ := strings.Cut(rest, ".")
		if i, err := strconv.Atoi(head); err == nil && i > best {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return prefix + "." + strconv.Itoa(best), true
}

func (l *layerIndex) topLevel() []string {
	var out []string
	for _, n := range l.names {
		if !strings.Contains(n, ".") {
			out = append(out, n)
		}
	}
	return out
}

type layerStrategy struct {
	name string
	find func(*layerIndex) (string, bool)
}

func exact(name string) func(*layerIndex) (string, bool) {
	return func(l *layerIndex) (string, bool) {
		return name, l.has(name)
	}
}

var layerStrategies = []layerStrategy{
	{name: "swinv2_layernorm", find: exact("swinv2.layernorm")},
	{name: "swinv2_last_stage_norm", find: func(l *layerIndex) (string, bool) {
		last, ok := l.lastChild("swinv2.encoder.layers")
		if !ok {
			return "", false
		}
		return last + ".layernorm", l.has(last + ".layernorm")
	}},
	{name: "swinv2_last_block_norm", find: func(l *layerIndex) (string, bool) {
		last, ok := l.lastChild("swinv2.encoder.layers")
		if !ok {
			return "", false
		}
		block, ok := l.lastChild(last + ".blocks")
		if !ok {
			return "", false
		}
		for _, leaf := range []string{"layernorm", "norm1"} {
			if l.has(block + "." + leaf) {
				return block + "." + leaf, true
			}
		}
		return "", false
	}},
	{name: "backbone_norm", find: exact("backbone.norm")},
	{name: "backbone_last_block_norm", find: func(l *layerIndex) (string, bool) {
		last, ok := l.lastChild("backbone.layers")
		if !ok {
			return "", false
		}
		block, ok := l.lastChild(last + ".blocks")
		if !ok {
			return "", false
		}
		return block + ".norm1", l.has(block + ".norm1")
	}},
	{name: "generic_stage_norm", find: func(l *layerIndex) (string, bool) {
		for _, n := range l.names {
			lower := strings.ToLower(n)
			if !strings.Contains(lower, "norm") {
				continue
			}
			if strings.Contains(lower, "stage") || strings.Contains(lower, "block") || strings.Contains(lower, "layer") {
				return n, true
			}
		}
		return "", false
	}},
	{name: "head_fallback", find: func(l *layerIndex) (string, bool) {
		for _, n := range []string{"classifier", "layernorm", "pooler"} {
			if l.has(n) {
				return n, true
			}
		}
		return "", false
	}},
	{name: "last_children", find: func(l *layerIndex) (string, bool) {
		top := l.topLevel()
		switch {
		case len(top) >= 2:
			return top[len(top)-2], true
		case len(top) == 1:
			return top[0], true
		}
		return "", false
	}},
}

// LocateFeatureLayer picks the layer Grad-CAM should trace for a
// transformer-style image classifier. Strategies run in a fixed order and
// the first hit wins; the strategy name is returned for reporting.
func LocateFeatureLayer(layers []inference.LayerDescriptor) (layer, strategy string, err error) {
	idx := newLayerIndex(layers)
	for _, s := range layerStrategies {
		if name, ok := s.find(idx); ok {
			return name, s.name, nil
		}
	}
	return "", "", ErrNoTargetLayer
}
