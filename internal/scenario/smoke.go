package scenario

import (
	"strconv"

	"github.com/deixis/smoke/internal/config"
	"github.com/deixis/smoke/internal/expect"
	"github.com/deixis/smoke/internal/locate"
)

// echoHeader is the ICMP header size added to the echo payload.
const echoHeader = 8

// defaultEchoPayload is the payload ping sends without --payload.
const defaultEchoPayload = 56

// Catalogue returns the built-in smoke scenarios for cfg, in the order
// they are meant to run. The tap helper comes first because every other
// scenario needs the interface it creates.
func Catalogue(cfg *config.Config) ([]Scenario, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resolve, err := cfg.ResolveArgv()
	if err != nil {
		return nil, err
	}
	net := cfg.Net()
	n := cfg.Count()
	count := strconv.Itoa(n)

	all := []Scenario{
		{
			Name:        "tap",
			Description: "bring up the virtual interface",
			Steps:       []Step{RunTool(locate.RoleTap)},
		},
		{
			Name:        "arping-unknown",
			Description: "address resolution of an unused address times out on every attempt",
			Steps: []Step{
				RunTool(locate.RoleARPing, "--addr", net.UnknownIP, "--count", count),
				Check(expect.Equals(expect.Timeouts(n))),
			},
		},
		{
			Name:        "arping-gateway",
			Description: "address resolution of the gateway answers every attempt in order",
			Steps: []Step{
				WithSubject(locate.RoleStack,
					RunTool(locate.RoleARPing, "--addr", net.GatewayIP, "--count", count),
					Check(expect.Matches(expect.ARPReplies(net.GatewayIP, n))),
					CheckARPSequence(n),
				),
			},
		},
		{
			Name:        "ping-unknown",
			Description: "echo requests to an unused address time out on every attempt",
			Steps: []Step{
				RunTool(locate.RolePing, "--addr", net.UnknownIP, "--count", count),
				Check(expect.Equals(expect.Timeouts(n))),
			},
		},
		{
			Name:        "ping-oversized",
			Description: "echo requests larger than the stack accepts are never answered",
			Steps: []Step{
				RunTool(locate.RolePing,
					"--addr", net.ExternalIP,
					"--count", count,
					"--payload", strconv.Itoa(cfg.OversizedPayload()),
				),
				Check(expect.Equals(expect.Timeouts(n))),
			},
		},
		{
			Name:        "arping-subject",
			Description: "the host resolves the subject's address to its hardware address",
			Steps: []Step{
				WithSubject(locate.RoleStack,
					RunCommand(resolve...),
					Check(expect.Includes(net.DeviceMAC)),
				),
			},
		},
	}

	switch cfg.SelfEcho {
	case config.SelfEchoReply:
		all = append(all, Scenario{
			Name:        "ping-subject",
			Description: "the subject answers echo requests to its own address",
			Steps: []Step{
				WithSubject(locate.RoleStack,
					RunTool(locate.RolePing, "--addr", net.DeviceIP, "--count", count),
					Check(expect.Matches(expect.EchoReplies(net.DeviceIP, echoHeader+defaultEchoPayload, n))),
					CheckEchoSequence(n),
				),
			},
		})
	case config.SelfEchoTimeout:
		all = append(all, Scenario{
			Name:        "ping-subject",
			Description: "echo requests to the subject's own address go unanswered",
			Steps: []Step{
				WithSubject(locate.RoleStack,
					RunTool(locate.RolePing, "--addr", net.DeviceIP, "--count", count),
					Check(expect.Equals(expect.Timeouts(n))),
				),
			},
		})
	}

	if attempts := cfg.Attempts(); attempts > 1 {
		for i := range all {
			all[i].Attempts = attempts
		}
	}
	return all, nil
}
