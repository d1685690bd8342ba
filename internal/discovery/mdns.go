// Package discovery advertises a running broker over mDNS so peers on the
// local network can find its TCP endpoint without a configured address.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

// serviceType is the fixed mDNS service type this library advertises
// under; only the instance name and TXT metadata vary per broker.
const serviceType = "_bus-message._tcp"

// Advertisement is a running mDNS registration. Call Close to withdraw it.
type Advertisement struct {
	svc  *zeroconf.Server
	done chan struct{}
}

// Start registers instance on the local domain at port, with meta as TXT
// records, and returns a handle to withdraw the registration. If instance
// is "", the local hostname is used to build one.
func Start(ctx context.Context, instance string, port int, meta []string) (*Advertisement, error) {
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("bus-message-%s", host)
	}
	svc, err := zeroconf.Register(instance, serviceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return &Advertisement{svc: svc, done: done}, nil
}

// Close withdraws the mDNS registration and blocks briefly for the goodbye
// packet to go out.
func (a *Advertisement) Close() {
	close(a.done)
	a.svc.Shutdown()
	time.Sleep(50 * time.Millisecond)
}
