package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"SpectraIDS/internal/logging"
	"SpectraIDS/internal/metrics"
	"SpectraIDS/internal/model"

	"github.com/rs/zerolog"
)

// ErrInvalidInterval is returned by Start for a non-positive interval.
var ErrInvalidInterval = errors.New("source: interval must be positive")

// DefaultInterval is the simulator tick period when none is given.
const DefaultInterval = time.Second

// AttackTypes is the catalog of non-normal labels the simulator draws from.
var AttackTypes = []string{
	"dos", "probe", "r2l", "u2r", "port_scan",
	"ddos", "brute_force", "sql_injection", "arp_spoofing", "malware",
}

// TargetPorts is the catalog of destination ports of simulated attacks.
var TargetPorts = []uint16{22, 80, 443, 8080, 53, 3306}

// Handler receives each simulated attack. Handlers run on the simulator
// goroutine and must not block for long.
type Handler func(*model.Attack)

type handlerEntry struct {
	fn Handler
}

// run is one Start..Stop period of the simulator loop.
type run struct {
	stop  chan struct{}
	reset chan time.Duration
}

// Simulator periodically synthesizes labeled attacks and hands them to its
// handlers. Start and Stop may be called from any goroutine.
type Simulator struct {
	mu       sync.Mutex
	current  *run
	interval time.Duration

	hmu      sync.RWMutex
	handlers []*handlerEntry

	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time

	log zerolog.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithSeed makes the generated attacks reproducible.
func WithSeed(seed int64) Option {
	return func(s *Simulator) { s.rng = rand.New(rand.NewSource(seed)) }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// NewSimulator creates a stopped simulator.
func NewSimulator(opts ...Option) *Simulator {
	s := &Simulator{
		interval: DefaultInterval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		log:      logging.Component("simulator"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins producing one attack immediately and then one per interval.
// Calling Start while running only replaces the interval.
func (s *Simulator) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = interval
	if s.current != nil {
		// Keep only the latest pending interval.
		select {
		case <-s.current.reset:
		default:
		}
		s.current.reset <- interval
		s.log.Info().Dur("interval", interval).Msg("simulator interval changed")
		return nil
	}

	r := &run{
		stop:  make(chan struct{}),
		reset: make(chan time.Duration, 1),
	}
	s.current = r
	go s.loop(r, interval)

	metrics.SimulatorRunning.Set(1)
	s.log.Info().Dur("interval", interval).Msg("simulator started")
	return nil
}

// Stop halts the simulator after the tick in progress, if any. Stopping a
// stopped simulator does nothing.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	close(s.current.stop)
	s.current = nil

	metrics.SimulatorRunning.Set(0)
	s.log.Info().Msg("simulator stopped")
}

// Running reports whether the simulator is producing attacks.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Interval returns the most recently configured tick period.
func (s *Simulator) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Simulator) loop(r *run, interval time.Duration) {
	s.tick()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case d := <-r.reset:
			ticker.Reset(d)
		case <-ticker.C:
			select {
			case <-r.stop:
				return
			default:
			}
			s.tick()
		}
	}
}

func (s *Simulator) tick() {
	attack := s.Generate()
	metrics.SimulatorTicks.Inc()

	s.hmu.RLock()
	handlers := make([]*handlerEntry, len(s.handlers))
	copy(handlers, s.handlers)
	s.hmu.RUnlock()

	for _, h := range handlers {
		s.dispatch(h.fn, attack)
	}
}

func (s *Simulator) dispatch(fn Handler, attack *model.Attack) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("simulator handler panicked")
		}
	}()
	fn(attack)
}

// Subscribe registers fn for every subsequent attack. The returned function
// removes it again.
func (s *Simulator) Subscribe(fn Handler) (unsubscribe func()) {
	e := &handlerEntry{fn: fn}
	s.hmu.Lock()
	s.handlers = append(s.handlers, e)
	s.hmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.hmu.Lock()
			defer s.hmu.Unlock()
			for i, h := range s.handlers {
				if h == e {
					s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Events exposes the simulator as an unbounded EventSource. The channel is
// closed when ctx is canceled. A consumer that stops reading stalls the
// simulator until ctx is canceled.
func (s *Simulator) Events(ctx context.Context) <-chan model.RawEvent {
	out := make(chan model.RawEvent, 1)

	var mu sync.Mutex
	closed := false
	unsubscribe := s.Subscribe(func(a *model.Attack) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- model.RawEvent{Attack: a}:
		case <-ctx.Done():
		}
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out
}

// Generate synthesizes one attack.
func (s *Simulator) Generate() *model.Attack {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	return &model.Attack{
		Timestamp:  s.now(),
		SrcIP:      s.randomIPv4(),
		DstIP:      s.randomIPv4(),
		SrcPort:    uint16(1024 + s.rng.Intn(65535-1024+1)),
		DstPort:    TargetPorts[s.rng.Intn(len(TargetPorts))],
		AttackType: AttackTypes[s.rng.Intn(len(AttackTypes))],
		Confidence: math.Round((0.6+s.rng.Float64()*0.39)*1000) / 1000,
	}
}

// randomIPv4 draws each octet from 1..254. Callers hold rngMu.
func (s *Simulator) randomIPv4() string {
	return fmt.Sprintf("%d.%d.%d.%d",
		1+s.rng.Intn(254), 1+s.rng.Intn(254), 1+s.rng.Intn(254), 1+s.rng.Intn(254))
}
