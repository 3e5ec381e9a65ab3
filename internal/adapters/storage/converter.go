package storage

import (
	"encoding/json"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// toDeviceModel converts a domain entity to a database model.
func toDeviceModel(d *domain.Device) DeviceModel {
	return DeviceModel{
		DeviceID:           d.DeviceID,
		MAC:                d.MAC,
		Type:               d.Type,
		Fingerprint:        d.Fingerprint,
		Status:             string(d.Status),
		IP:                 d.IP,
		CertPath:           d.CertPath,
		KeyPath:            d.KeyPath,
		FirstSeen:          d.FirstSeen,
		OnboardedAt:        d.OnboardedAt,
		LastSeen:           d.LastSeen,
		ProfilingStartedAt: d.ProfilingStartedAt,
		HeartbeatExpected:  d.HeartbeatExpected,
		Info:               d.Info,
	}
}

// toDeviceDomain converts a database model to a domain entity.
func toDeviceDomain(m DeviceModel) *domain.Device {
	return &domain.Device{
		DeviceID:           m.DeviceID,
		MAC:                m.MAC,
		Type:               m.Type,
		Fingerprint:        m.Fingerprint,
		Status:             domain.DeviceStatus(m.Status),
		IP:                 m.IP,
		CertPath:           m.CertPath,
		KeyPath:            m.KeyPath,
		FirstSeen:          m.FirstSeen,
		OnboardedAt:        m.OnboardedAt,
		LastSeen:           m.LastSeen,
		ProfilingStartedAt: m.ProfilingStartedAt,
		HeartbeatExpected:  m.HeartbeatExpected,
		Info:               m.Info,
	}
}

func toBaselineModel(b *domain.Baseline) BaselineModel {
	return BaselineModel{
		DeviceID:       b.DeviceID,
		AvgPPS:         b.AvgPPS,
		AvgBPS:         b.AvgBPS,
		DstIPs:         encodeJSON(b.DstIPs),
		DstPorts:       encodeJSON(b.DstPorts),
		Protocols:      encodeJSON(b.Protocols),
		Sparse:         b.Sparse,
		UniqueDstIPs:   b.UniqueDstIPs,
		UniqueDstPorts: b.UniqueDstPorts,
		EstablishedAt:  b.EstablishedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func toBaselineDomain(m BaselineModel) *domain.Baseline {
	b := &domain.Baseline{
		DeviceID:       m.DeviceID,
		AvgPPS:         m.AvgPPS,
		AvgBPS:         m.AvgBPS,
		Sparse:         m.Sparse,
		UniqueDstIPs:   m.UniqueDstIPs,
		UniqueDstPorts: m.UniqueDstPorts,
		EstablishedAt:  m.EstablishedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	decodeJSON(m.DstIPs, &b.DstIPs)
	decodeJSON(m.DstPorts, &b.DstPorts)
	decodeJSON(m.Protocols, &b.Protocols)
	return b
}

func toPolicyModel(p *domain.Policy) PolicyModel {
	return PolicyModel{
		DeviceID:    p.DeviceID,
		Rules:       encodeJSON(p.Rules),
		GeneratedAt: p.GeneratedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toPolicyDomain(m PolicyModel) *domain.Policy {
	p := &domain.Policy{
		DeviceID:    m.DeviceID,
		GeneratedAt: m.GeneratedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	decodeJSON(m.Rules, &p.Rules)
	return p
}

func toThreatModel(t *domain.Threat) ThreatModel {
	return ThreatModel{
		SourceIP:   t.SourceIP,
		FirstSeen:  t.FirstSeen,
		LastSeen:   t.LastSeen,
		EventKinds: encodeJSON(t.EventKinds),
		Severity:   string(t.Severity),
		EventCount: t.EventCount,
	}
}

func toThreatDomain(m ThreatModel) *domain.Threat {
	t := &domain.Threat{
		SourceIP:   m.SourceIP,
		FirstSeen:  m.FirstSeen,
		LastSeen:   m.LastSeen,
		Severity:   domain.Severity(m.Severity),
		EventCount: m.EventCount,
	}
	decodeJSON(m.EventKinds, &t.EventKinds)
	return t
}

func toMitigationModel(r *domain.MitigationRule) MitigationModel {
	return MitigationModel{
		ID:        r.ID,
		SourceIP:  r.SourceIP,
		Match:     encodeJSON(r.Match),
		Action:    string(r.Action),
		Priority:  r.Priority,
		Reason:    r.Reason,
		Permanent: r.Permanent,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func toMitigationDomain(m MitigationModel) *domain.MitigationRule {
	r := &domain.MitigationRule{
		ID:        m.ID,
		SourceIP:  m.SourceIP,
		Action:    domain.RuleAction(m.Action),
		Priority:  m.Priority,
		Reason:    m.Reason,
		Permanent: m.Permanent,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	decodeJSON(m.Match, &r.Match)
	return r
}

func encodeJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeJSON(s string, target interface{}) {
	if s == "" {
		return
	}
	_ = json.Unmarshal([]byte(s), target)
}
