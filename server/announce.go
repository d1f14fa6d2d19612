package server

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/hashicorp/mdns"
)

// serviceType is the mDNS service type clients look up to find a server on
// the local network.
const serviceType = "_oocsi._tcp"

type announcer struct {
	server *mdns.Server
}

// announceService advertises the broker's protocol address via mDNS.
func announceService(addr string) (*announcer, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("announce address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("announce port %q: %w", portStr, err)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "oocsi-server"
	}

	service, err := mdns.NewMDNSService(host, serviceType, "", "", port, nil, []string{"oocsi-go"})
	if err != nil {
		return nil, fmt.Errorf("mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("mDNS server: %w", err)
	}

	slog.Info("Announcing server via mDNS", "service", serviceType, "port", port)
	return &announcer{server: server}, nil
}

func (a *announcer) stop() {
	a.server.Shutdown()
}
