package client

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service type announced by OOCSI servers on the
// local network.
const ServiceType = "_oocsi._tcp"

// DiscoveredServer describes an OOCSI server found via mDNS.
type DiscoveredServer struct {
	Name       string
	Address    string
	Port       int
	TXTRecords []string
}

// Addr returns the host:port to dial.
func (d *DiscoveredServer) Addr() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
}

// DiscoverServer returns the first OOCSI server announced on the local
// network, or an error after the timeout.
func DiscoverServer(timeout time.Duration) (*DiscoveredServer, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)
	go func() {
		defer close(entriesCh)
		mdns.Lookup(ServiceType, entriesCh)
	}()

	select {
	case entry := <-entriesCh:
		if entry == nil {
			return nil, fmt.Errorf("no %s service found", ServiceType)
		}

		var address string
		switch {
		case entry.AddrV4 != nil:
			address = entry.AddrV4.String()
		case entry.AddrV6 != nil:
			address = entry.AddrV6.String()
		default:
			return nil, fmt.Errorf("no valid address for service %s", entry.Name)
		}

		server := &DiscoveredServer{
			Name:       entry.Name,
			Address:    address,
			Port:       entry.Port,
			TXTRecords: entry.InfoFields,
		}
		slog.Info("Discovered OOCSI server",
			"name", server.Name,
			"address", server.Address,
			"port", server.Port,
		)
		return server, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("mDNS discovery timeout for %s", ServiceType)
	}
}
