// Package gossip implements the mesh's peer-to-peer anti-entropy protocol
// over raw UDP: a periodic DIGEST broadcast, PULL_REQ on mismatch, and a
// fragmented STATE reply that the receiver reassembles and merges.
package gossip

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/decub/edgemesh/internal/replica"
)

// fragmentChunkSize is the raw payload carried per fragment, sized so the
// JSON-encoded fragment (header + base64 chunk) stays under maxDatagram.
const fragmentChunkSize = 4096

// Service runs the UDP gossip loop for one node.
type Service struct {
	selfNode string
	store    *replica.ReplicaStore

	conn  *net.UDPConn
	peers []*net.UDPAddr

	gossipInterval    time.Duration
	reassembleTimeout time.Duration

	mu          sync.Mutex
	reassembly  map[string]*reassemblyEntry

	isolated atomic.Bool

	quit chan struct{}
	wg   sync.WaitGroup
}

// SetIsolated toggles whether this node's gossip traffic is dropped in
// both directions, the in-process stand-in for an orchestrator applying
// iptables DROP rules inside a container's network namespace.
func (s *Service) SetIsolated(isolated bool) {
	s.isolated.Store(isolated)
}

// Isolated reports the current isolation state.
func (s *Service) Isolated() bool {
	return s.isolated.Load()
}

type reassemblyEntry struct {
	total    uint16
	got      int
	chunks   [][]byte
	lastSeen time.Time
}

// NewService resolves peer addresses and binds the UDP listen port.
func NewService(store *replica.ReplicaStore, selfNode string, listenPort int, peerAddrs []string, gossipInterval, reassembleTimeout time.Duration) (*Service, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: listenPort})
	if err != nil {
		return nil, fmt.Errorf("gossip: listen on %d: %w", listenPort, err)
	}

	peers := make([]*net.UDPAddr, 0, len(peerAddrs))
	for _, p := range peerAddrs {
		addr, err := net.ResolveUDPAddr("udp", p)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("gossip: resolve peer %s: %w", p, err)
		}
		peers = append(peers, addr)
	}

	return &Service{
		selfNode:          selfNode,
		store:             store,
		conn:              conn,
		peers:             peers,
		gossipInterval:    gossipInterval,
		reassembleTimeout: reassembleTimeout,
		reassembly:        make(map[string]*reassemblyEntry),
		quit:              make(chan struct{}),
	}, nil
}

// Start launches the inbound reader, the broadcast ticker and the
// reassembly sweeper. It returns immediately.
func (s *Service) Start() {
	s.wg.Add(3)
	go s.readLoop()
	go s.broadcastLoop()
	go s.sweepLoop()
	log.Printf("gossip: node %s listening on %s, %d peers", s.selfNode, s.conn.LocalAddr(), len(s.peers))
}

// Stop closes the socket and waits for the background goroutines to exit.
func (s *Service) Stop() error {
	close(s.quit)
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// broadcastLoop sends a DIGEST to every peer every gossipInterval, jittered
// ±10% so peers' ticks do not stay in lockstep.
func (s *Service) broadcastLoop() {
	defer s.wg.Done()
	for {
		jitter := time.Duration(float64(s.gossipInterval) * (0.9 + 0.2*rand.Float64()))
		timer := time.NewTimer(jitter)
		select {
		case <-s.quit:
			timer.Stop()
			return
		case <-timer.C:
			s.broadcastDigest()
		}
	}
}

func (s *Service) broadcastDigest() {
	if s.isolated.Load() {
		return
	}
	msg := DigestMessage{
		envelope:   envelope{Msg: KindDigest, NodeID: s.selfNode, Version: s.store.Snapshot().Version},
		MerkleRoot: s.store.MerkleRoot(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("gossip: marshal digest: %v", err)
		return
	}
	for _, peer := range s.peers {
		if err := s.sendFragmented(payload, peer); err != nil {
			log.Printf("gossip: send digest to %s: %v", peer, err)
		}
	}
}

func (s *Service) sendFragmented(payload []byte, peer *net.UDPAddr) error {
	total := (len(payload) + fragmentChunkSize - 1) / fragmentChunkSize
	if total == 0 {
		total = 1
	}
	fragID := uuid.NewString()
	for i := 0; i < total; i++ {
		start := i * fragmentChunkSize
		end := start + fragmentChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		frag := fragment{
			fragmentHeader: fragmentHeader{FragID: fragID, Index: uint16(i), Total: uint16(total)},
			Chunk:          payload[start:end],
		}
		b, err := json.Marshal(frag)
		if err != nil {
			return fmt.Errorf("gossip: marshal fragment: %w", err)
		}
		if _, err := s.conn.WriteToUDP(b, peer); err != nil {
			return fmt.Errorf("gossip: write fragment: %w", err)
		}
	}
	return nil
}

// readLoop receives datagrams, reassembles fragmented messages and
// dispatches complete ones.
func (s *Service) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, maxDatagram+1024)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				log.Printf("gossip: read: %v", err)
				continue
			}
		}

		var frag fragment
		if err := json.Unmarshal(buf[:n], &frag); err != nil {
			log.Printf("gossip: malformed datagram from %s: %v", addr, err)
			continue
		}

		complete := s.assemble(frag)
		if complete == nil {
			continue
		}
		s.dispatch(complete, addr)
	}
}

func (s *Service) assemble(frag fragment) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.reassembly[frag.FragID]
	if !ok {
		entry = &reassemblyEntry{total: frag.Total, chunks: make([][]byte, frag.Total)}
		s.reassembly[frag.FragID] = entry
	}
	entry.lastSeen = time.Now()
	if entry.chunks[frag.Index] == nil {
		entry.chunks[frag.Index] = frag.Chunk
		entry.got++
	}
	if entry.got < int(entry.total) {
		return nil
	}

	delete(s.reassembly, frag.FragID)
	var out []byte
	for _, c := range entry.chunks {
		out = append(out, c...)
	}
	return out
}

// sweepLoop discards reassembly buffers that have not completed within
// reassembleTimeout, so a dropped fragment cannot leak memory forever.
func (s *Service) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.reassembleTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.reassembleTimeout)
			s.mu.Lock()
			for id, entry := range s.reassembly {
				if entry.lastSeen.Before(cutoff) {
					delete(s.reassembly, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Service) dispatch(payload []byte, from *net.UDPAddr) {
	if s.isolated.Load() {
		return
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Printf("gossip: malformed envelope from %s: %v", from, err)
		return
	}

	switch env.Msg {
	case KindDigest:
		var msg DigestMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("gossip: malformed digest: %v", err)
			return
		}
		s.handleDigest(msg, from)
	case KindPullReq:
		var msg PullRequest
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("gossip: malformed pull_req: %v", err)
			return
		}
		s.handlePullReq(msg, from)
	case KindState:
		var msg StateMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("gossip: malformed state: %v", err)
			return
		}
		s.handleState(msg)
	default:
		log.Printf("gossip: unknown message kind %q from %s", env.Msg, from)
	}
}

func (s *Service) handleDigest(msg DigestMessage, from *net.UDPAddr) {
	if msg.MerkleRoot == s.store.MerkleRoot() {
		return
	}
	req := PullRequest{
		envelope:     envelope{Msg: KindPullReq, NodeID: s.selfNode, Version: s.store.Snapshot().Version},
		SinceVersion: 0,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		log.Printf("gossip: marshal pull_req: %v", err)
		return
	}
	if err := s.sendFragmented(payload, from); err != nil {
		log.Printf("gossip: send pull_req to %s: %v", from, err)
	}
}

func (s *Service) handlePullReq(msg PullRequest, from *net.UDPAddr) {
	state := StateMessage{
		envelope: envelope{Msg: KindState, NodeID: s.selfNode, Version: s.store.Snapshot().Version},
		Snapshot: s.store.Snapshot(),
	}
	payload, err := json.Marshal(state)
	if err != nil {
		log.Printf("gossip: marshal state: %v", err)
		return
	}
	if err := s.sendFragmented(payload, from); err != nil {
		log.Printf("gossip: send state to %s: %v", from, err)
	}
}

func (s *Service) handleState(msg StateMessage) {
	report, err := s.store.Merge(msg.Snapshot)
	if err != nil {
		log.Printf("gossip: merge state from %s: %v", msg.NodeID, err)
		return
	}
	if report.Changed {
		log.Printf("gossip: merged state from %s, %d new events", msg.NodeID, len(report.NewEventIDs))
	}
}
