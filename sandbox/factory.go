package sandbox

import (
	"context"

	"github.com/spf13/viper"

	"github.com/verity-subnet/verity-pool/config"
)

// Factory hands out sandboxes bounded by a fixed capacity. Each live
// sandbox owns one host port from a pool starting at the base port;
// Stop returns the port and the slot.
type Factory struct {
	ports     chan int
	agentPort int
	limits    Limits
}

func NewFactory(conf *viper.Viper) *Factory {
	f := new(Factory)

	capacity := conf.GetInt(config.ConfigSandboxCapacity)
	base := conf.GetInt(config.ConfigSandboxBasePort)
	f.ports = make(chan int, capacity)
	for i := 0; i < capacity; i++ {
		f.ports <- base + i
	}

	f.agentPort = conf.GetInt(config.ConfigSandboxAgentPort)
	f.limits = Limits{
		CPUs:       conf.GetString(config.ConfigSandboxCPUs),
		Memory:     conf.GetString(config.ConfigSandboxMemory),
		MemorySwap: conf.GetString(config.ConfigSandboxMemory),
	}
	return f
}

// Acquire blocks until a sandbox slot is free, or the context ends.
func (f *Factory) Acquire(ctx context.Context, id string) (Sandbox, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case port := <-f.ports:
		d := NewDocker(id, port, f.agentPort, f.limits)
		d.release = func() { f.ports <- port }
		return d, nil
	}
}

// Free reports how many slots are currently available.
func (f *Factory) Free() int {
	return len(f.ports)
}
