package main

import (
	"fmt"
	"log/slog"

	"github.com/ihedvall/bus-message-lib/internal/broker"
	"github.com/ihedvall/bus-message-lib/internal/busfactory"
)

// initHost builds the in-host broker used directly (simulate,
// sharedmemory*) or composed underneath a tcp broker (host=simulate or
// host=sharedmemory).
func initHost(kind string, cfg *appConfig, l *slog.Logger) (broker.Broker, error) {
	switch kind {
	case "simulate":
		fk := busfactory.Simulate
		l.Info("host_broker", "kind", string(fk), "buffer_size", cfg.bufferSize)
		return busfactory.New(fk, busfactory.Config{Name: cfg.name, BufferSize: cfg.bufferSize})
	case "sharedmemory":
		fk := busfactory.SharedMemory
		l.Info("host_broker", "kind", string(fk), "buffer_size", cfg.bufferSize, "master", cfg.asMaster)
		return busfactory.New(fk, busfactory.Config{Name: cfg.name, BufferSize: cfg.bufferSize, AsMaster: cfg.asMaster})
	default:
		return nil, fmt.Errorf("initHost: unsupported host kind %q", kind)
	}
}

// initBroker builds the top-level broker requested by cfg.brokerKind. For
// the bare tcp broker, the in-host broker is built first and composed
// underneath it (spec §4.H).
func initBroker(cfg *appConfig, l *slog.Logger) (broker.Broker, error) {
	switch cfg.brokerKind {
	case "simulate", "sharedmemory":
		return initHost(cfg.brokerKind, cfg, l)

	case "sharedmemoryserver":
		l.Info("broker_kind", "kind", "SharedMemoryServer", "buffer_size", cfg.bufferSize)
		return busfactory.New(busfactory.SharedMemoryServer, busfactory.Config{Name: cfg.name, BufferSize: cfg.bufferSize})

	case "sharedmemoryclient":
		l.Info("broker_kind", "kind", "SharedMemoryClient", "buffer_size", cfg.bufferSize)
		return busfactory.New(busfactory.SharedMemoryClient, busfactory.Config{Name: cfg.name, BufferSize: cfg.bufferSize})

	case "tcp":
		host, err := initHost(cfg.hostKind, cfg, l)
		if err != nil {
			return nil, fmt.Errorf("initBroker: host: %w", err)
		}
		l.Info("broker_kind", "kind", "Tcp", "address", cfg.address, "port", cfg.port, "host", cfg.hostKind)
		return busfactory.New(busfactory.Tcp, busfactory.Config{
			Name:       cfg.name,
			Address:    cfg.address,
			Port:       cfg.port,
			HostBroker: host,
		})

	case "tcpserver":
		l.Info("broker_kind", "kind", "TcpServer", "address", cfg.address, "port", cfg.port)
		return busfactory.New(busfactory.TcpServer, busfactory.Config{Name: cfg.name, Address: cfg.address, Port: cfg.port})

	case "tcpclient":
		l.Info("broker_kind", "kind", "TcpClient", "address", cfg.address, "port", cfg.port)
		return busfactory.New(busfactory.TcpClient, busfactory.Config{Name: cfg.name, Address: cfg.address, Port: cfg.port})

	default:
		return nil, fmt.Errorf("initBroker: unsupported broker kind %q", cfg.brokerKind)
	}
}
