package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-mimic3/internal/bus"
	"github.com/loqalabs/loqa-mimic3/internal/config"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	SubjectAnnounce        = "ctrl.node.announce"
	SubjectDiscover        = "ctrl.node.discover"
	SubjectHeartbeatPrefix = "ctrl.node.heartbeat"

	// NameTTS is the capability advertised by Mimic 3 nodes.
	NameTTS = "tts.mimic3"
)

type Capability struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// TTSCapability describes this node's synthesis backend.
func TTSCapability(cfg config.TTSConfig) Capability {
	attrs := map[string]string{
		"backend":   cfg.Mode,
		"language":  cfg.Lang,
		"audio_ext": cfg.AudioExt,
	}
	if cfg.Mimic3.Voice != "" {
		attrs["voice"] = cfg.Mimic3.Voice
	}
	if cfg.Mimic3.Speaker != "" {
		attrs["speaker"] = cfg.Mimic3.Speaker
	}
	return Capability{Name: NameTTS, Attributes: attrs}
}

type NodeInfo struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

type announceMessage struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeatMessage struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Announcer advertises this node's capabilities on the bus, sends
// heartbeats and tracks the peers it hears from.
type Announcer struct {
	cfg    config.NodeConfig
	caps   []Capability
	log    *slog.Logger
	bus    *bus.Client
	mu     sync.RWMutex
	nodes  map[string]*NodeInfo
	cancel context.CancelFunc
	subs   []*nats.Subscription
	now    func() time.Time
}

func NewAnnouncer(ctx context.Context, cfg config.NodeConfig, caps []Capability, busClient *bus.Client, log *slog.Logger) (*Announcer, error) {
	ctx, cancel := context.WithCancel(ctx)
	a := &Announcer{
		cfg:    cfg,
		caps:   caps,
		log:    log.With(slog.String("component", "capability-announcer")),
		bus:    busClient,
		nodes:  make(map[string]*NodeInfo),
		cancel: cancel,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := a.initMetrics(); err != nil {
		a.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := a.subscribe(); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.announce(); err != nil {
		a.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	go a.runHeartbeat(ctx, time.Duration(cfg.HeartbeatInterval)*time.Millisecond)
	go a.monitorHealth(ctx)

	return a, nil
}

func (a *Announcer) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, sub := range a.subs {
		_ = sub.Drain()
	}
	a.subs = nil
}

func (a *Announcer) subscribe() error {
	conn := a.bus.Conn()
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{SubjectAnnounce, a.handleAnnounce},
		{SubjectHeartbeatPrefix + ".*", a.handleHeartbeat},
		{SubjectDiscover, a.handleDiscover},
	}
	for _, h := range handlers {
		sub, err := conn.Subscribe(h.subject, h.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		a.subs = append(a.subs, sub)
	}
	return nil
}

func (a *Announcer) runHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.publishHeartbeat(); err != nil {
				a.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Announcer) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.evaluateHealth()
		}
	}
}

func (a *Announcer) announce() error {
	msg := announceMessage{
		NodeID:       a.cfg.ID,
		Role:         a.cfg.Role,
		Capabilities: a.caps,
		Timestamp:    a.now(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := a.bus.Conn().Publish(SubjectAnnounce, payload); err != nil {
		return err
	}
	a.updateNode(msg.NodeID, msg.Role, msg.Capabilities, msg.Timestamp)
	return nil
}

func (a *Announcer) publishHeartbeat() error {
	msg := heartbeatMessage{NodeID: a.cfg.ID, Timestamp: a.now()}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := a.bus.Conn().Publish(SubjectHeartbeatPrefix+"."+a.cfg.ID, payload); err != nil {
		return err
	}
	a.updateNode(msg.NodeID, "", nil, msg.Timestamp)
	return nil
}

func (a *Announcer) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		a.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.NodeID == "" {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = a.now()
	}
	a.updateNode(announcement.NodeID, announcement.Role, announcement.Capabilities, announcement.Timestamp)
}

func (a *Announcer) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		a.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.NodeID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = a.now()
	}
	a.updateNode(hb.NodeID, "", nil, hb.Timestamp)
}

// handleDiscover re-announces so late joiners learn about this node.
func (a *Announcer) handleDiscover(*nats.Msg) {
	if err := a.announce(); err != nil {
		a.log.Warn("failed to answer discovery", slog.String("error", err.Error()))
	}
}

func (a *Announcer) updateNode(nodeID, role string, capabilities []Capability, timestamp time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	node, ok := a.nodes[nodeID]
	if !ok {
		node = &NodeInfo{ID: nodeID}
		a.nodes[nodeID] = node
	}
	if role != "" {
		node.Role = role
	}
	if len(capabilities) > 0 {
		node.Capabilities = capabilities
	}
	node.LastSeen = timestamp
	node.Healthy = true
}

func (a *Announcer) evaluateHealth() {
	a.mu.Lock()
	defer a.mu.Unlock()

	timeout := time.Duration(a.cfg.HeartbeatTimeout) * time.Millisecond
	now := a.now()
	for _, node := range a.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether this node's own announcement is current.
func (a *Announcer) Healthy() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	node, ok := a.nodes[a.cfg.ID]
	return ok && node.Healthy
}

// Peers lists known nodes advertising capability name, ordered by ID.
func (a *Announcer) Peers(name string) []NodeInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var results []NodeInfo
	for _, node := range a.nodes {
		for _, c := range node.Capabilities {
			if c.Name == name {
				results = append(results, *node)
				break
			}
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

func (a *Announcer) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-mimic3/capability")
	nodes, err := meter.Int64ObservableGauge("loqa.capabilities.nodes",
		metric.WithDescription("Number of known nodes"))
	if err != nil {
		return err
	}
	healthy, err := meter.Int64ObservableGauge("loqa.capabilities.healthy_nodes",
		metric.WithDescription("Number of nodes with a current heartbeat"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		total, up := a.snapshotCounts()
		obs.ObserveInt64(nodes, total)
		obs.ObserveInt64(healthy, up)
		return nil
	}, nodes, healthy)
	return err
}

func (a *Announcer) snapshotCounts() (total, healthy int64) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, node := range a.nodes {
		total++
		if node.Healthy {
			healthy++
		}
	}
	return total, healthy
}
