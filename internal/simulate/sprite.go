package simulate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/stockpile/pkg/pool"
	"github.com/ajitpratap0/stockpile/pkg/stockpileerrors"
)

// Sprite stands in for an expensive scene object: it carries a large
// payload and takes BuildCost to construct.
type Sprite struct {
	ID     int64  `yaml:"id" json:"id"`
	Kind   string `yaml:"kind" json:"kind"`
	Frames int    `yaml:"frames" json:"frames"`
	Layer  int    `yaml:"layer" json:"layer"`

	Payload []byte `yaml:"-" json:"-"`
	Visible bool   `yaml:"-" json:"-"`

	// Lifetime and Age are counted in ticks.
	Lifetime int `yaml:"-" json:"-"`
	Age      int `yaml:"-" json:"-"`
}

// Expired reports whether the sprite has outlived its lifetime.
func (s *Sprite) Expired() bool {
	return s.Age >= s.Lifetime
}

const defaultKind = "sprite"

// SpriteFactory builds sprites, optionally from a blueprint template.
type SpriteFactory struct {
	cost        time.Duration
	payloadSize int
	template    pool.Factory[*Sprite]
	seq         atomic.Int64
}

// NewSpriteFactory returns a factory whose instances take cost to build and
// carry payloadSize bytes. A nil template builds zero-valued sprites of kind
// "sprite".
func NewSpriteFactory(cost time.Duration, payloadSize int, template pool.Factory[*Sprite]) *SpriteFactory {
	return &SpriteFactory{cost: cost, payloadSize: payloadSize, template: template}
}

// NewSpriteFactoryFromFile loads a YAML or JSON blueprint for the factory.
func NewSpriteFactoryFromFile(path string, cost time.Duration, payloadSize int) (*SpriteFactory, error) {
	bp, err := pool.LoadBlueprint[Sprite](path)
	if err != nil {
		return nil, err
	}
	return NewSpriteFactory(cost, payloadSize, bp), nil
}

// New builds one sprite. It waits out the build cost unless ctx ends first.
func (f *SpriteFactory) New(ctx context.Context) (*Sprite, error) {
	if f.cost > 0 {
		timer := time.NewTimer(f.cost)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, stockpileerrors.Wrap(ctx.Err(), stockpileerrors.ErrorTypeFactory, "sprite build interrupted")
		case <-timer.C:
		}
	}

	var s *Sprite
	if f.template != nil {
		var err error
		if s, err = f.template.New(ctx); err != nil {
			return nil, err
		}
	} else {
		s = &Sprite{}
	}
	if s.Kind == "" {
		s.Kind = defaultKind
	}
	s.ID = f.seq.Add(1)
	if f.payloadSize > 0 {
		s.Payload = make([]byte, f.payloadSize)
	}
	return s, nil
}

// Built returns how many sprites the factory has produced.
func (f *SpriteFactory) Built() int64 {
	return f.seq.Load()
}
