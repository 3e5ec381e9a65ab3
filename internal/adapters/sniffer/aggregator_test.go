package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

func TestAggregatorFoldsPerMAC(t *testing.T) {
	a := NewAggregator()

	a.Add(domain.PacketObservation{MAC: "aa:bb:cc:00:00:02", SrcIP: "192.168.1.11", DstIP: "10.0.0.20", DstPort: 53, Protocol: "udp", Size: 80})
	a.Add(domain.PacketObservation{MAC: "aa:bb:cc:00:00:01", SrcIP: "192.168.1.10", DstIP: "10.0.0.10", DstPort: 443, Protocol: "tcp", Size: 100})
	a.Add(domain.PacketObservation{MAC: "aa:bb:cc:00:00:01", SrcIP: "192.168.1.10", DstIP: "10.0.0.11", DstPort: 443, Protocol: "tcp", Size: 60})
	a.Add(domain.PacketObservation{MAC: "aa:bb:cc:00:00:01", DstIP: "10.0.0.10", DstPort: 8883, Protocol: "tcp", Size: 40})

	got := a.Drain()
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "aa:bb:cc:00:00:01", first.MAC)
	assert.Equal(t, "192.168.1.10", first.SrcIP)
	assert.Equal(t, uint64(3), first.Packets)
	assert.Equal(t, uint64(200), first.Bytes)
	assert.Equal(t, []string{"10.0.0.10", "10.0.0.11"}, first.DstIPs)
	assert.Equal(t, []int{443, 8883}, first.DstPorts)
	assert.Equal(t, []string{"tcp"}, first.Protocols)

	assert.Equal(t, "aa:bb:cc:00:00:02", got[1].MAC)

	// The window closed with the drain.
	assert.Nil(t, a.Drain())
}

func TestAggregatorIgnoresAnonymousFrames(t *testing.T) {
	a := NewAggregator()
	a.Add(domain.PacketObservation{Size: 64})
	assert.Nil(t, a.Drain())
}

func TestAggregatorKeepsLatestSourceIP(t *testing.T) {
	a := NewAggregator()
	a.Add(domain.PacketObservation{MAC: "aa:bb:cc:00:00:01", SrcIP: "192.168.1.10", Size: 10})
	a.Add(domain.PacketObservation{MAC: "aa:bb:cc:00:00:01", SrcIP: "192.168.1.99", Size: 10})
	a.Add(domain.PacketObservation{MAC: "aa:bb:cc:00:00:01", Size: 10})

	got := a.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "192.168.1.99", got[0].SrcIP)
	assert.Equal(t, uint64(3), got[0].Packets)
}
