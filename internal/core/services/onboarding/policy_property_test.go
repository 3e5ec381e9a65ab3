//go:build property
// +build property

package onboarding

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

func baselineFrom(rawIPs []uint32, ports []int) *domain.Baseline {
	ips := make([]string, 0, len(rawIPs))
	for _, raw := range rawIPs {
		ips = append(ips, fmt.Sprintf("%d.%d.%d.%d",
			raw>>24&0xff, raw>>16&0xff, raw>>8&0xff, raw&0xff))
	}
	return &domain.Baseline{
		DeviceID: "prop-dev",
		DstIPs:   ips,
		DstPorts: ports,
	}
}

// Property: whatever a device talked to during profiling, the generated
// policy ends in the default deny and allows nothing beyond what was
// observed.
func TestLeastPrivilegePolicyShape(t *testing.T) {
	now := time.Unix(1700000000, 0)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("policy always terminates in default deny", prop.ForAll(
		func(rawIPs []uint32, ports []int) bool {
			pol := leastPrivilegePolicy("prop-dev", baselineFrom(rawIPs, ports), now)
			return pol.EndsWithDefaultDeny()
		},
		gen.SliceOf(gen.UInt32()),
		gen.SliceOf(gen.IntRange(1, 65535)),
	))

	properties.Property("allows cover exactly the observed destinations", prop.ForAll(
		func(rawIPs []uint32, ports []int) bool {
			b := baselineFrom(rawIPs, ports)
			pol := leastPrivilegePolicy("prop-dev", b, now)
			if len(pol.Rules) != len(b.DstIPs)+len(b.DstPorts)+1 {
				return false
			}

			observedIP := make(map[string]bool, len(b.DstIPs))
			for _, ip := range b.DstIPs {
				observedIP[ip] = true
			}
			observedPort := make(map[int]bool, len(b.DstPorts))
			for _, p := range b.DstPorts {
				observedPort[p] = true
			}

			for _, r := range pol.Rules[:len(pol.Rules)-1] {
				if r.Action != domain.RuleAllow {
					return false
				}
				switch {
				case r.Match.DstIP != "":
					if !observedIP[r.Match.DstIP] || r.Match.DstPort != 0 {
						return false
					}
				case r.Match.DstPort != 0:
					if !observedPort[r.Match.DstPort] {
						return false
					}
				default:
					return false // an unscoped allow is never least privilege
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt32()),
		gen.SliceOf(gen.IntRange(1, 65535)),
	))

	properties.Property("generation is deterministic", prop.ForAll(
		func(rawIPs []uint32, ports []int) bool {
			b := baselineFrom(rawIPs, ports)
			return reflect.DeepEqual(
				leastPrivilegePolicy("prop-dev", b, now),
				leastPrivilegePolicy("prop-dev", b, now),
			)
		},
		gen.SliceOf(gen.UInt32()),
		gen.SliceOf(gen.IntRange(1, 65535)),
	))

	properties.TestingRun(t)
}
