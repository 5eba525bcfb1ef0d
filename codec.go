package xhub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Codec turns the envelope frame into wire text and back. Payloads stay JSON text whatever
// the codec, so listeners always receive the same Payload representation.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec is the wire format peers and hubs speak by default.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

func (JSONCodec) Name() string { return DefaultCodec }

// DefaultCodec names the codec a Builder uses unless told otherwise.
const DefaultCodec = "json"

// CodecFactory returns a ready Codec.
type CodecFactory func() Codec

var codecs = struct {
	sync.RWMutex
	byName map[string]CodecFactory
}{
	byName: map[string]CodecFactory{
		DefaultCodec: func() Codec { return JSONCodec{} },
	},
}

// RegisterCodec makes a codec available to Builder.WithCodec. Names are unique; registering
// a taken name fails with ErrDuplicateIdentifier.
func RegisterCodec(name string, factory CodecFactory) error {
	switch {
	case name == "":
		return errors.New("xhub: codec name must not be empty")
	case factory == nil:
		return fmt.Errorf("xhub: codec %q: factory must not be nil", name)
	}
	codecs.Lock()
	defer codecs.Unlock()
	if _, taken := codecs.byName[name]; taken {
		return fmt.Errorf("%w: codec %q", ErrDuplicateIdentifier, name)
	}
	codecs.byName[name] = factory
	return nil
}

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	codecs.RLock()
	factory, ok := codecs.byName[name]
	codecs.RUnlock()
	if !ok {
		return nil, fmt.Errorf("xhub: codec %q is not registered (have %v)", name, Codecs())
	}
	return factory(), nil
}

// Codecs lists the registered codec names, sorted.
func Codecs() []string {
	codecs.RLock()
	names := make([]string, 0, len(codecs.byName))
	for name := range codecs.byName {
		names = append(names, name)
	}
	codecs.RUnlock()
	sort.Strings(names)
	return names
}
