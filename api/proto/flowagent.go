// Package proto holds the wire types for the flow agent RPC surface.
//
// The bindings are maintained by hand against flowagent.proto so a
// build never depends on protoc being installed: the protobuf struct
// tags carry the schema, and the gRPC codec adapts these legacy
// messages through the protoadapt path at runtime.
package proto

import (
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/runtime/protoimpl"
)

// FlowReport carries one observation window for one device, already
// aggregated on the agent side. Counters are window totals, not
// cumulative.
type FlowReport struct {
	Mac           string   `protobuf:"bytes,1,opt,name=mac,proto3" json:"mac,omitempty"`
	Packets       uint64   `protobuf:"varint,2,opt,name=packets,proto3" json:"packets,omitempty"`
	Bytes         uint64   `protobuf:"varint,3,opt,name=bytes,proto3" json:"bytes,omitempty"`
	DstIps        []string `protobuf:"bytes,4,rep,name=dst_ips,json=dstIps,proto3" json:"dst_ips,omitempty"`
	DstPorts      []uint32 `protobuf:"varint,5,rep,packed,name=dst_ports,json=dstPorts,proto3" json:"dst_ports,omitempty"`
	Protocols     []string `protobuf:"bytes,6,rep,name=protocols,proto3" json:"protocols,omitempty"`
	WindowSeconds float64  `protobuf:"fixed64,7,opt,name=window_seconds,json=windowSeconds,proto3" json:"window_seconds,omitempty"`
	TimestampUnix int64    `protobuf:"varint,8,opt,name=timestamp_unix,json=timestampUnix,proto3" json:"timestamp_unix,omitempty"`
	AgentId       string   `protobuf:"bytes,9,opt,name=agent_id,json=agentId,proto3" json:"agent_id,omitempty"`
	SrcIp         string   `protobuf:"bytes,10,opt,name=src_ip,json=srcIp,proto3" json:"src_ip,omitempty"`
}

var _ protoadapt.MessageV1 = (*FlowReport)(nil)

func (m *FlowReport) Reset()         { *m = FlowReport{} }
func (m *FlowReport) ProtoMessage()  {}
func (m *FlowReport) String() string { return protoimpl.X.MessageStringOf(protoadapt.MessageV2Of(m)) }

func (m *FlowReport) GetMac() string {
	if m != nil {
		return m.Mac
	}
	return ""
}

func (m *FlowReport) GetPackets() uint64 {
	if m != nil {
		return m.Packets
	}
	return 0
}

func (m *FlowReport) GetBytes() uint64 {
	if m != nil {
		return m.Bytes
	}
	return 0
}

func (m *FlowReport) GetDstIps() []string {
	if m != nil {
		return m.DstIps
	}
	return nil
}

func (m *FlowReport) GetDstPorts() []uint32 {
	if m != nil {
		return m.DstPorts
	}
	return nil
}

func (m *FlowReport) GetProtocols() []string {
	if m != nil {
		return m.Protocols
	}
	return nil
}

func (m *FlowReport) GetWindowSeconds() float64 {
	if m != nil {
		return m.WindowSeconds
	}
	return 0
}

func (m *FlowReport) GetTimestampUnix() int64 {
	if m != nil {
		return m.TimestampUnix
	}
	return 0
}

func (m *FlowReport) GetAgentId() string {
	if m != nil {
		return m.AgentId
	}
	return ""
}

func (m *FlowReport) GetSrcIp() string {
	if m != nil {
		return m.SrcIp
	}
	return ""
}

// ReportSummary acknowledges a completed stream.
type ReportSummary struct {
	Accepted   uint64 `protobuf:"varint,1,opt,name=accepted,proto3" json:"accepted,omitempty"`
	Registered uint64 `protobuf:"varint,2,opt,name=registered,proto3" json:"registered,omitempty"`
}

var _ protoadapt.MessageV1 = (*ReportSummary)(nil)

func (m *ReportSummary) Reset()        { *m = ReportSummary{} }
func (m *ReportSummary) ProtoMessage() {}
func (m *ReportSummary) String() string {
	return protoimpl.X.MessageStringOf(protoadapt.MessageV2Of(m))
}

func (m *ReportSummary) GetAccepted() uint64 {
	if m != nil {
		return m.Accepted
	}
	return 0
}

func (m *ReportSummary) GetRegistered() uint64 {
	if m != nil {
		return m.Registered
	}
	return 0
}
