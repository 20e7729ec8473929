package transport

import (
	"net"
	"sort"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/sirupsen/logrus"
)

// LocalAddress is a candidate address the sender can dial.
type LocalAddress struct {
	Interface string
	IP        net.IP
	// Rank orders addresses; lower is more likely reachable from a phone.
	Rank int
}

// addressRank scores an IPv4 address by how likely it is to sit on the same
// LAN as the phone: home ranges first, benchmark and link-local ranges last.
func addressRank(ip net.IP) int {
	ip4 := ip.To4()
	if ip4 == nil {
		return 100
	}
	switch {
	case ip4[0] == 192 && ip4[1] == 168:
		return 0
	case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
		return 1
	case ip4[0] == 10:
		return 2
	case ip4[0] == 198 && (ip4[1] == 18 || ip4[1] == 19):
		return 4
	case ip4[0] == 169 && ip4[1] == 254:
		return 5
	default:
		return 3
	}
}

// virtualInterfacePrefixes are skipped when listing addresses.
var virtualInterfacePrefixes = []string{"veth", "docker", "br-", "virbr", "vmnet", "vboxnet", "utun", "tun", "tap"}

func isVirtualInterface(name string) bool {
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// RankAddresses filters and orders the addresses of the given interfaces.
func RankAddresses(interfaces psnet.InterfaceStatList) []LocalAddress {
	var out []LocalAddress
	for _, iface := range interfaces {
		if isVirtualInterface(iface.Name) {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip == nil || ip.To4() == nil || ip.IsLoopback() {
				continue
			}
			out = append(out, LocalAddress{Interface: iface.Name, IP: ip.To4(), Rank: addressRank(ip)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rank < out[j].Rank
	})
	return out
}

// LocalAddresses lists non-loopback IPv4 addresses of this host, best first,
// for display to the user configuring the sender.
func LocalAddresses() ([]LocalAddress, error) {
	interfaces, err := psnet.Interfaces()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "LocalAddresses",
			"error":    err.Error(),
		}).Error("Failed to enumerate interfaces")
		return nil, err
	}
	return RankAddresses(interfaces), nil
}
