package sniffer

import (
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// Parse reduces one captured packet to an observation. Packets without
// an Ethernet layer are dropped. Non-IPv4 traffic (ARP, IPv6) keeps
// only its MAC and size, which is still enough for liveness.
func Parse(pkt gopacket.Packet) (domain.PacketObservation, bool) {
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return domain.PacketObservation{}, false
	}
	eth, _ := ethLayer.(*layers.Ethernet)

	obs := domain.PacketObservation{
		MAC:       domain.NormalizeMAC(eth.SrcMAC.String()),
		Size:      len(pkt.Data()),
		Timestamp: pkt.Metadata().Timestamp.UTC(),
	}
	if meta := pkt.Metadata(); meta.Length > 0 {
		// Wire length, not the snapped capture length.
		obs.Size = meta.Length
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now().UTC()
	}

	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return obs, true
	}
	ip, _ := ipLayer.(*layers.IPv4)
	obs.SrcIP = ip.SrcIP.String()
	obs.DstIP = ip.DstIP.String()

	switch {
	case pkt.Layer(layers.LayerTypeTCP) != nil:
		tcp, _ := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
		obs.Protocol = "tcp"
		obs.SrcPort = int(tcp.SrcPort)
		obs.DstPort = int(tcp.DstPort)
	case pkt.Layer(layers.LayerTypeUDP) != nil:
		udp, _ := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		obs.Protocol = "udp"
		obs.SrcPort = int(udp.SrcPort)
		obs.DstPort = int(udp.DstPort)
	case ip.Protocol == layers.IPProtocolICMPv4:
		obs.Protocol = "icmp"
	default:
		obs.Protocol = strings.ToLower(ip.Protocol.String())
	}
	return obs, true
}
