package publisher

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
)

// Config holds configuration for the status gRPC server.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "localhost:50061")
	ListenAddr string

	// MaxClients is the maximum number of concurrent Watch streams.
	MaxClients int

	// ClientBuffer is the number of statuses queued per client before
	// updates are dropped for that client.
	ClientBuffer int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50061",
		MaxClients:   8,
		ClientBuffer: 4,
	}
}

// Publisher serves StatusService and broadcasts every cycle's status to
// connected clients. It is a pipeline.CycleObserver.
type Publisher struct {
	config   Config
	server   *grpc.Server
	listener net.Listener

	statusCh  chan pipeline.Status
	latest    atomic.Pointer[pipeline.Status]
	clients   map[string]*clientStream
	clientsMu sync.RWMutex

	published   atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id       string
	statusCh chan pipeline.Status
}

func NewPublisher(cfg Config) *Publisher {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = DefaultConfig().ClientBuffer
	}
	return &Publisher{
		config:   cfg,
		statusCh: make(chan pipeline.Status, 16),
		clients:  make(map[string]*clientStream),
		stopCh:   make(chan struct{}),
	}
}

// Start listens on the configured address and serves in the background.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if err := p.Serve(lis); err != nil {
		lis.Close()
		return err
	}
	return nil
}

// Serve serves on an existing listener in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.listener = lis
	p.server = grpc.NewServer()
	p.server.RegisterService(&StatusServiceDesc, p)

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[publisher] gRPC status stream listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Opsf("[publisher] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Stop ends all streams and stops the server.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.server.GracefulStop()
	p.wg.Wait()
	monitoring.Logf("[publisher] gRPC server stopped")
}

// ObserveCycle publishes the status.
func (p *Publisher) ObserveCycle(st pipeline.Status) { p.Publish(st) }

// Publish queues a status for broadcast without blocking.
func (p *Publisher) Publish(st pipeline.Status) {
	p.latest.Store(&st)
	if !p.running.Load() {
		return
	}
	select {
	case p.statusCh <- st:
		p.published.Add(1)
	default:
		p.dropped.Add(1)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case st := <-p.statusCh:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				select {
				case c.statusCh <- st:
				default:
					// slow client misses this update
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient() (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, status.Errorf(codes.ResourceExhausted, "too many watchers (max %d)", p.config.MaxClients)
	}
	c := &clientStream{id: uuid.NewString(), statusCh: make(chan pipeline.Status, p.config.ClientBuffer)}
	if latest := p.latest.Load(); latest != nil {
		c.statusCh <- *latest
	}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	monitoring.Diagf("[publisher] client connected: %s (total: %d)", c.id, n)
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if _, ok := p.clients[id]; ok {
		delete(p.clients, id)
		n := p.clientCount.Add(-1)
		monitoring.Diagf("[publisher] client disconnected: %s (remaining: %d)", id, n)
	}
}

// Watch implements StatusServiceServer. A new watcher receives the latest
// status immediately, then one message per cycle.
func (p *Publisher) Watch(_ *emptypb.Empty, stream grpc.ServerStream) error {
	c, err := p.addClient()
	if err != nil {
		return err
	}
	defer p.removeClient(c.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case st := <-c.statusCh:
			msg, err := StatusToStruct(st)
			if err != nil {
				return status.Errorf(codes.Internal, "%v", err)
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:   p.published.Load(),
		Dropped:     p.dropped.Load(),
		ClientCount: p.clientCount.Load(),
		Running:     p.running.Load(),
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Published   uint64
	Dropped     uint64
	ClientCount int32
	Running     bool
}
