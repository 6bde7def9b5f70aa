package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"NetflowAnalyzer/internal/factory"
	"NetflowAnalyzer/internal/metrics"
	"NetflowAnalyzer/internal/model"
)

var (
	// ErrQueueFull is returned when a module queue has no room for a packet.
	ErrQueueFull = errors.New("module queue full")
	// ErrModuleStopped is returned when the module goroutine has exited.
	ErrModuleStopped = errors.New("module stopped")
	// ErrManagerStopped is returned by Register after ShutdownAll.
	ErrManagerStopped = errors.New("manager stopped")
	// ErrDuplicateModule is returned when a module name is already live.
	ErrDuplicateModule = errors.New("module already registered")
)

// OverflowPolicy decides what happens when a module queue is full.
type OverflowPolicy string

const (
	// DropOldest evicts the oldest queued packet to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// DropNewest discards the incoming packet.
	DropNewest OverflowPolicy = "drop_newest"
)

const (
	DefaultQueueSize   = 1024
	DefaultJoinTimeout = 5 * time.Second
)

// Options configures a Manager.
type Options struct {
	QueueSize   int
	Overflow    OverflowPolicy
	JoinTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Notifier    model.Notifier
}

// Handle is the manager's record of one running module. The dispatcher only
// ever enqueues through Manager.Dispatch; nothing outside this package
// touches a Handle's channel or cancel func.
type Handle struct {
	name    string
	typ     string
	in      chan model.FlowPacket
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Bool
}

// Name returns the module name.
func (h *Handle) Name() string { return h.name }

// Done is closed when the module goroutine has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ModuleStatus is a point-in-time view of one module.
type ModuleStatus struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Running   bool      `json:"running"`
	Failed    bool      `json:"failed"`
	Started   time.Time `json:"started"`
	QueueLen  int       `json:"queue_len"`
	QueueCap  int       `json:"queue_cap"`
	Delivered uint64    `json:"delivered"`
	Dropped   uint64    `json:"dropped"`
}

// ShutdownResult reports how ShutdownAll went.
type ShutdownResult struct {
	Stopped   []string
	Abandoned []string
}

// Manager starts analysis modules, fans packets out to them and stops them.
type Manager struct {
	queueSize   int
	overflow    OverflowPolicy
	joinTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	notifier    model.Notifier

	mu      sync.RWMutex
	handles []*Handle
	stopped bool
}

// New creates a Manager with no modules.
func New(opts Options) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Overflow == "" {
		opts.Overflow = DropOldest
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		queueSize:   opts.QueueSize,
		overflow:    opts.Overflow,
		joinTimeout: opts.JoinTimeout,
		logger:      opts.Logger.With("component", "manager"),
		metrics:     opts.Metrics,
		notifier:    opts.Notifier,
	}
}

// RegisterAll registers every descriptor it is given; callers pass the
// enabled ones (config.EnabledModules). Failures are logged and the module is
// left out; they never stop the remaining modules from starting. It returns
// the number of modules started.
func (m *Manager) RegisterAll(descs []model.ModuleDescriptor) int {
	started := 0
	for _, desc := range descs {
		if _, err := m.Register(desc); err != nil {
			m.logger.Error("Failed to start module", "module", desc.Name, "type", desc.ModuleType(), "error", err)
			continue
		}
		started++
	}
	if started == 0 {
		m.logger.Warn("No analysis modules loaded")
	}
	return started
}

// Register builds the module through the factory registry and starts it.
func (m *Manager) Register(desc model.ModuleDescriptor) (*Handle, error) {
	logger := m.logger.With("module", desc.Name)
	mod, err := factory.Create(desc, factory.Env{
		Logger:   logger,
		Notifier: m.notifier,
		Metrics:  m.metrics,
	})
	if err != nil {
		return nil, err
	}
	return m.Start(desc.ModuleType(), mod)
}

// Start launches an already built module.
func (m *Manager) Start(typ string, mod model.Module) (h *Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic starting module: %v", r)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrManagerStopped
	}
	name := mod.Name()
	for _, existing := range m.handles {
		if existing.name == name {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, name)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	h = &Handle{
		name:    name,
		typ:     typ,
		in:      make(chan model.FlowPacket, m.queueSize),
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}

	go m.run(ctx, h, mod)

	m.handles = append(m.handles, h)
	m.metrics.ModuleStarted()
	m.logger.Info("Launched module", "module", name, "type", typ, "queue_size", m.queueSize)
	return h, nil
}

// run is the module goroutine. A panic or error inside the module ends only
// this module.
func (m *Manager) run(ctx context.Context, h *Handle, mod model.Module) {
	defer close(h.done)
	defer m.metrics.ModuleStopped()
	defer func() {
		if r := recover(); r != nil {
			h.failed.Store(true)
			m.logger.Error("Module panicked", "module", h.name, "panic", r)
		}
	}()

	if err := mod.Run(ctx, h.in); err != nil && !errors.Is(err, context.Canceled) {
		h.failed.Store(true)
		m.logger.Error("Module exited with error", "module", h.name, "error", err)
		return
	}
	m.logger.Info("Module finished", "module", h.name)
}

// Dispatch hands a copy of pkt to every live module. A failure for one
// module is logged and does not stop delivery to the others. It returns the
// number of modules the packet was queued for.
func (m *Manager) Dispatch(pkt model.FlowPacket) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped {
		return 0
	}

	queued := 0
	for _, h := range m.handles {
		err := m.enqueue(h, pkt.Clone())
		switch {
		case err == nil:
			queued++
		case errors.Is(err, errDroppedOldest):
			queued++
			m.logger.Warn("Module queue full, dropped oldest packet", "module", h.name, "dropped_total", h.dropped.Load())
			m.metrics.EnqueueFailure(h.name, "dropped_oldest")
		case errors.Is(err, ErrQueueFull):
			m.logger.Warn("Failed to add packet to module queue", "module", h.name, "error", err)
			m.metrics.EnqueueFailure(h.name, "queue_full")
		default:
			m.logger.Warn("Failed to add packet to module queue", "module", h.name, "error", err)
			m.metrics.EnqueueFailure(h.name, "stopped")
		}
		m.metrics.SetQueueDepth(h.name, len(h.in))
	}
	return queued
}

var errDroppedOldest = errors.New("dropped oldest queued packet")

// enqueue never blocks. The dispatcher is the only writer, so after evicting
// one packet the retry can only fail if the module is also gone.
func (m *Manager) enqueue(h *Handle, pkt model.FlowPacket) error {
	if !h.running() {
		return ErrModuleStopped
	}

	select {
	case h.in <- pkt:
		h.delivered.Add(1)
		return nil
	default:
	}

	if m.overflow == DropNewest {
		h.dropped.Add(1)
		return ErrQueueFull
	}

	select {
	case <-h.in:
		h.dropped.Add(1)
	default:
	}
	select {
	case h.in <- pkt:
		h.delivered.Add(1)
		return errDroppedOldest
	default:
		h.dropped.Add(1)
		return ErrQueueFull
	}
}

// ShutdownAll cancels every module and waits for them to return. Modules
// that do not return within the join timeout are abandoned: their goroutine
// is left behind and reported.
func (m *Manager) ShutdownAll() ShutdownResult {
	m.mu.Lock()
	m.stopped = true
	handles := make([]*Handle, len(m.handles))
	copy(handles, m.handles)
	m.mu.Unlock()

	m.logger.Info("Stopping modules", "count", len(handles), "join_timeout", m.joinTimeout)
	for _, h := range handles {
		h.cancel()
	}

	var result ShutdownResult
	deadline := time.NewTimer(m.joinTimeout)
	defer deadline.Stop()
	timedOut := false

	for _, h := range handles {
		if timedOut {
			if h.running() {
				result.Abandoned = append(result.Abandoned, h.name)
			} else {
				result.Stopped = append(result.Stopped, h.name)
			}
			continue
		}
		select {
		case <-h.done:
			result.Stopped = append(result.Stopped, h.name)
		case <-deadline.C:
			timedOut = true
			result.Abandoned = append(result.Abandoned, h.name)
		}
	}

	for _, name := range result.Abandoned {
		m.logger.Error("Module did not stop in time, abandoning it", "module", name, "join_timeout", m.joinTimeout)
	}
	m.logger.Info("Modules stopped", "stopped", len(result.Stopped), "abandoned", len(result.Abandoned))
	return result
}

// Modules reports the state of every registered module.
func (m *Manager) Modules() []ModuleStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ModuleStatus, 0, len(m.handles))
	for _, h := range m.handles {
		statuses = append(statuses, ModuleStatus{
			Name:      h.name,
			Type:      h.typ,
			Running:   h.running(),
			Failed:    h.failed.Load(),
			Started:   h.started,
			QueueLen:  len(h.in),
			QueueCap:  cap(h.in),
			Delivered: h.delivered.Load(),
			Dropped:   h.dropped.Load(),
		})
	}
	return statuses
}
