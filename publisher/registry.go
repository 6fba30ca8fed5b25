package publisher

import (
	"fmt"
	"sort"
	"sync"

	"github.com/arrowglass/ledgersink/cfg"
)

// SinkFactory builds a sink from the publisher configuration.
type SinkFactory func(config cfg.PublisherConfiguration) (Sink, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]SinkFactory)
)

// RegisterSink registers a sink implementation under a name. Called from
// the sink implementations' init functions.
func RegisterSink(name string, factory SinkFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// NewSink instantiates the configured sink.
func NewSink(config cfg.PublisherConfiguration) (Sink, error) {
	factoriesMu.RLock()
	factory, ok := factories[config.Sink]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sink %q (registered: %v)", config.Sink, registeredSinks())
	}
	return factory(config)
}

func registeredSinks() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
