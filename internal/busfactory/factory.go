// Package busfactory implements create_broker(type) (spec §4.I): a single
// entry point returning the requested broker.Broker variant.
package busfactory

import (
	"fmt"

	"github.com/ihedvall/bus-message-lib/internal/broker"
	"github.com/ihedvall/bus-message-lib/internal/logging"
	"github.com/ihedvall/bus-message-lib/internal/shmembroker"
	"github.com/ihedvall/bus-message-lib/internal/shmemserver"
	"github.com/ihedvall/bus-message-lib/internal/simbroker"
	"github.com/ihedvall/bus-message-lib/internal/tcpbus"
)

// Kind names the seven broker variants spec §4.I enumerates.
type Kind string

const (
	Simulate           Kind = "Simulate"
	SharedMemory       Kind = "SharedMemory"
	SharedMemoryServer Kind = "SharedMemoryServer"
	SharedMemoryClient Kind = "SharedMemoryClient"
	Tcp                Kind = "Tcp"
	TcpServer          Kind = "TcpServer"
	TcpClient          Kind = "TcpClient"
)

// Config carries the union of construction parameters every broker variant
// might need; only the fields relevant to the requested Kind are read.
type Config struct {
	Name       string
	BufferSize int    // Simulate, SharedMemory*
	Address    string // Tcp*
	Port       int    // Tcp*
	AsMaster   bool   // SharedMemory
	HostBroker broker.Broker // Tcp: the in-host broker peers mirror into
}

// New constructs the requested broker variant. Unknown kinds log an error
// and return a nil handle (spec §4.I).
func New(kind Kind, cfg Config) (broker.Broker, error) {
	switch kind {
	case Simulate:
		opts := []simbroker.Option{}
		if cfg.Name != "" {
			opts = append(opts, simbroker.WithName(cfg.Name))
		}
		if cfg.BufferSize > 0 {
			opts = append(opts, simbroker.WithBufferSize(cfg.BufferSize))
		}
		return simbroker.New(opts...), nil

	case SharedMemory:
		opts := []shmembroker.Option{shmembroker.AsMaster(cfg.AsMaster)}
		if cfg.Name != "" {
			opts = append(opts, shmembroker.WithName(cfg.Name))
		}
		if cfg.BufferSize > 0 {
			opts = append(opts, shmembroker.WithBufferSize(cfg.BufferSize))
		}
		return shmembroker.New(opts...), nil

	case SharedMemoryServer:
		opts := []shmemserver.Option{}
		if cfg.Name != "" {
			opts = append(opts, shmemserver.WithName(cfg.Name))
		}
		if cfg.BufferSize > 0 {
			opts = append(opts, shmemserver.WithBufferSize(cfg.BufferSize))
		}
		return shmemserver.NewServerSide(opts...), nil

	case SharedMemoryClient:
		opts := []shmemserver.Option{}
		if cfg.Name != "" {
			opts = append(opts, shmemserver.WithName(cfg.Name))
		}
		if cfg.BufferSize > 0 {
			opts = append(opts, shmemserver.WithBufferSize(cfg.BufferSize))
		}
		return shmemserver.NewClientSide(opts...), nil

	case Tcp:
		if cfg.HostBroker == nil {
			return nil, fmt.Errorf("busfactory: Tcp requires Config.HostBroker")
		}
		opts := []tcpbus.BrokerOption{
			tcpbus.WithHostBroker(cfg.HostBroker),
			tcpbus.WithBrokerListenAddr(cfg.Address, cfg.Port),
		}
		if cfg.Name != "" {
			opts = append(opts, tcpbus.WithBrokerName(cfg.Name))
		}
		return tcpbus.NewBroker(opts...), nil

	case TcpServer:
		opts := []tcpbus.ServerOption{tcpbus.WithListenAddr(cfg.Address, cfg.Port)}
		if cfg.Name != "" {
			opts = append(opts, tcpbus.WithServerName(cfg.Name))
		}
		return tcpbus.NewServer(opts...), nil

	case TcpClient:
		opts := []tcpbus.ClientOption{tcpbus.WithServerAddr(cfg.Address, cfg.Port)}
		if cfg.Name != "" {
			opts = append(opts, tcpbus.WithClientName(cfg.Name))
		}
		return tcpbus.NewClient(opts...), nil

	default:
		logging.L().Error("busfactory_unknown_kind", "kind", string(kind))
		return nil, fmt.Errorf("busfactory: unknown broker kind %q", kind)
	}
}
