package switching

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// MemorySwitch is an in-process Driver used by demo mode and tests. It
// keeps an ordered rule table and cumulative per-MAC counters that
// simulated traffic advances through Advance. SetDown flips the session
// so outage handling can be exercised without a real switch.
type MemorySwitch struct {
	mu       sync.Mutex
	down     bool
	rejects  map[string]string
	rules    map[string]domain.ForwardingRule
	counters map[string]*memCounters
}

var _ Driver = (*MemorySwitch)(nil)

type memCounters struct {
	packets  uint64
	bytes    uint64
	dstIPs   map[string]struct{}
	dstPorts map[int]struct{}
	protos   map[string]struct{}
}

var errSwitchDown = errors.New("memory switch marked down")

// NewMemorySwitch creates an empty in-memory switch.
func NewMemorySwitch() *MemorySwitch {
	return &MemorySwitch{
		rejects:  make(map[string]string),
		rules:    make(map[string]domain.ForwardingRule),
		counters: make(map[string]*memCounters),
	}
}

func (s *MemorySwitch) Name() string { return "memory" }

func (s *MemorySwitch) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errSwitchDown
	}
	return nil
}

func (s *MemorySwitch) InstallRule(ctx context.Context, rule domain.ForwardingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errSwitchDown
	}
	if reason, ok := s.rejects[rule.RuleID]; ok {
		return &domain.SwitchRuleRejectedError{Reason: reason}
	}
	s.rules[rule.RuleID] = rule
	return nil
}

func (s *MemorySwitch) RemoveRule(ctx context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errSwitchDown
	}
	delete(s.rules, ruleID)
	return nil
}

func (s *MemorySwitch) ListRules(ctx context.Context) ([]domain.ForwardingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, errSwitchDown
	}
	rules := make([]domain.ForwardingRule, 0, len(s.rules))
	for _, r := range s.rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].RuleID < rules[j].RuleID })
	return rules, nil
}

func (s *MemorySwitch) FlowStats(ctx context.Context) ([]domain.SwitchFlowEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, errSwitchDown
	}
	entries := make([]domain.SwitchFlowEntry, 0, len(s.counters))
	for mac, c := range s.counters {
		entries = append(entries, domain.SwitchFlowEntry{
			MAC:      mac,
			Packets:  c.packets,
			Bytes:    c.bytes,
			DstIPs:   sortedKeys(c.dstIPs),
			DstPorts: sortedInts(c.dstPorts),
			Protos:   sortedKeys(c.protos),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].MAC < entries[j].MAC })
	return entries, nil
}

func (s *MemorySwitch) Close() error { return nil }

// SetDown flips the simulated session state. While down every call
// fails, which the Manager reads as a lost session.
func (s *MemorySwitch) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// RejectRule makes installs of ruleID fail permanently with reason.
func (s *MemorySwitch) RejectRule(ruleID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects[ruleID] = reason
}

// Advance adds simulated traffic to a MAC's cumulative counters.
func (s *MemorySwitch) Advance(mac string, packets, bytes uint64, dstIPs []string, dstPorts []int, protos ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[domain.NormalizeMAC(mac)]
	if !ok {
		c = &memCounters{
			dstIPs:   make(map[string]struct{}),
			dstPorts: make(map[int]struct{}),
			protos:   make(map[string]struct{}),
		}
		s.counters[domain.NormalizeMAC(mac)] = c
	}
	c.packets += packets
	c.bytes += bytes
	for _, ip := range dstIPs {
		c.dstIPs[ip] = struct{}{}
	}
	for _, p := range dstPorts {
		c.dstPorts[p] = struct{}{}
	}
	for _, proto := range protos {
		c.protos[proto] = struct{}{}
	}
}

// ResetCounters clears a MAC's counters, as a switch reboot would.
func (s *MemorySwitch) ResetCounters(mac string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, domain.NormalizeMAC(mac))
}

// Rule returns an installed rule by ID.
func (s *MemorySwitch) Rule(ruleID string) (domain.ForwardingRule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	return r, ok
}

// RuleCount reports how many rules are installed.
func (s *MemorySwitch) RuleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedInts(set map[int]struct{}) []int {
	if len(set) == 0 {
		return nil
	}
	vals := make([]int, 0, len(set))
	for v := range set {
		vals = append(vals, v)
	}
	sort.Ints(vals)
	return vals
}
