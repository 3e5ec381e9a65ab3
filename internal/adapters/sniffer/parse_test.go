package sniffer

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func buildPacket(t *testing.T, ls ...gopacket.SerializableLayer) gopacket.Packet {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func TestParseTCP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       mustMAC(t, "AA:BB:CC:00:00:01"),
		DstMAC:       mustMAC(t, "11:22:33:44:55:66"),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("192.168.1.10"),
		DstIP:    net.ParseIP("10.0.0.10"),
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	pkt := buildPacket(t, eth, ip, tcp, gopacket.Payload([]byte("hello")))

	obs, ok := Parse(pkt)
	require.True(t, ok)
	assert.Equal(t, "aa:bb:cc:00:00:01", obs.MAC)
	assert.Equal(t, "192.168.1.10", obs.SrcIP)
	assert.Equal(t, "10.0.0.10", obs.DstIP)
	assert.Equal(t, "tcp", obs.Protocol)
	assert.Equal(t, 40000, obs.SrcPort)
	assert.Equal(t, 443, obs.DstPort)
	assert.Equal(t, len(pkt.Data()), obs.Size)
	assert.WithinDuration(t, time.Now(), obs.Timestamp, 5*time.Second)
}

func TestParseUDP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       mustMAC(t, "aa:bb:cc:00:00:02"),
		DstMAC:       mustMAC(t, "11:22:33:44:55:66"),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP("192.168.1.11"),
		DstIP:    net.ParseIP("10.0.0.20"),
	}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 8883}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	obs, ok := Parse(buildPacket(t, eth, ip, udp, gopacket.Payload([]byte("x"))))
	require.True(t, ok)
	assert.Equal(t, "udp", obs.Protocol)
	assert.Equal(t, 8883, obs.DstPort)
	assert.Equal(t, 5353, obs.SrcPort)
}

func TestParseICMP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       mustMAC(t, "aa:bb:cc:00:00:03"),
		DstMAC:       mustMAC(t, "11:22:33:44:55:66"),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    net.ParseIP("192.168.1.12"),
		DstIP:    net.ParseIP("10.0.0.30"),
	}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}

	obs, ok := Parse(buildPacket(t, eth, ip, icmp))
	require.True(t, ok)
	assert.Equal(t, "icmp", obs.Protocol)
	assert.Zero(t, obs.DstPort)
	assert.Equal(t, "10.0.0.30", obs.DstIP)
}

// ARP and other non-IP frames still count: MAC and size are enough for
// liveness during profiling.
func TestParseNonIPKeepsMAC(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       mustMAC(t, "aa:bb:cc:00:00:04"),
		DstMAC:       mustMAC(t, "ff:ff:ff:ff:ff:ff"),
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   mustMAC(t, "aa:bb:cc:00:00:04"),
		SourceProtAddress: net.ParseIP("192.168.1.13").To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    net.ParseIP("192.168.1.1").To4(),
	}

	obs, ok := Parse(buildPacket(t, eth, arp))
	require.True(t, ok)
	assert.Equal(t, "aa:bb:cc:00:00:04", obs.MAC)
	assert.Empty(t, obs.DstIP)
	assert.Empty(t, obs.Protocol)
	assert.Greater(t, obs.Size, 0)
}

func TestParseGarbageDropped(t *testing.T) {
	pkt := gopacket.NewPacket([]byte{0x01, 0x02, 0x03}, layers.LayerTypeEthernet, gopacket.Default)
	_, ok := Parse(pkt)
	assert.False(t, ok)
}
