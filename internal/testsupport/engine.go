package testsupport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sua-org/ppe-watch/internal/core"
	"github.com/sua-org/ppe-watch/internal/detection"
)

// Inferer returns one raw detection per class in Classes for every frame.
type Inferer struct {
	mu      sync.Mutex
	Classes []string
	Err     error
	Panic   bool
	calls   atomic.Int64
	closed  atomic.Bool
}

func NewInferer(classes ...string) *Inferer {
	return &Inferer{Classes: classes}
}

// SetClasses swaps the classes returned for later frames.
func (i *Inferer) SetClasses(classes ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Classes = classes
}

func (i *Inferer) Infer(_ core.Frame) ([]detection.RawDetection, error) {
	i.calls.Add(1)
	if i.Panic {
		panic("inferer exploded")
	}
	if i.Err != nil {
		return nil, i.Err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]detection.RawDetection, 0, len(i.Classes))
	for n, c := range i.Classes {
		out = append(out, detection.RawDetection{
			BBox:       core.BBox{X1: 10 * n, Y1: 10, X2: 10*n + 50, Y2: 80},
			Confidence: 0.9,
			Class:      c,
		})
	}
	return out, nil
}

func (i *Inferer) Close() error { i.closed.Store(true); return nil }
func (i *Inferer) Calls() int64 { return i.calls.Load() }
func (i *Inferer) Closed() bool { return i.closed.Load() }

// Annotator counts annotate calls.
type Annotator struct {
	calls atomic.Int64
}

func (a *Annotator) Annotate(core.Frame, []core.ItemDetection, core.ComplianceResult) error {
	a.calls.Add(1)
	return nil
}

func (a *Annotator) Calls() int64 { return a.calls.Load() }

// NewProvider wraps inf in a detection provider that loads without a model.
func NewProvider(inf detection.Inferer) *detection.Provider {
	return detection.NewProvider(func() (*detection.Engine, error) {
		return detection.NewEngine(inf, &Annotator{}, nil), nil
	})
}

// Encoder encodes a Frame as "jpeg-<seq>" and fails for the sequence numbers
// listed in Fail.
type Encoder struct {
	Fail map[int]bool
}

func (e Encoder) Encode(frame core.Frame, quality int) ([]byte, error) {
	f, ok := frame.(*Frame)
	if !ok {
		return nil, fmt.Errorf("unexpected frame type %T", frame)
	}
	if e.Fail[f.Seq] {
		return nil, fmt.Errorf("encode frame %d failed", f.Seq)
	}
	return []byte(fmt.Sprintf("jpeg-%d", f.Seq)), nil
}

// SnapshotStore keeps snapshots in memory.
type SnapshotStore struct {
	mu   sync.Mutex
	Err  error
	data map[string][]byte
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{data: make(map[string][]byte)}
}

func (s *SnapshotStore) SaveSnapshot(_ context.Context, key string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	s.data[key] = append([]byte(nil), data...)
	return "static/snapshots/" + key, nil
}

func (s *SnapshotStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.data))
	for k := range s.data {
		out = append(out, k)
	}
	return out
}

// Message is one captured publish.
type Message struct {
	Topic    string
	Retained bool
	Payload  []byte
}

// Publisher records MQTT publishes.
type Publisher struct {
	mu   sync.Mutex
	Err  error
	msgs []Message

	// Gate, when set, makes every Publish wait for a value or a close before
	// recording, the way a client stuck on an unreachable broker does.
	Gate    chan struct{}
	waiting atomic.Int64
}

func (p *Publisher) Publish(topic string, _ byte, retained bool, payload []byte) error {
	if p.Gate != nil {
		p.waiting.Add(1)
		<-p.Gate
		p.waiting.Add(-1)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.msgs = append(p.msgs, Message{Topic: topic, Retained: retained, Payload: append([]byte(nil), payload...)})
	return nil
}

func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.msgs...)
}

// Waiting is the number of Publish calls blocked on Gate.
func (p *Publisher) Waiting() int64 { return p.waiting.Load() }

// Topics returns the topics published so far, in order.
func (p *Publisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.Topic
	}
	return out
}
