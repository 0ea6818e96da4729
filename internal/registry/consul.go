// Package registry implements C13: registering an SKDP server process
// with Consul so devices and load balancers can discover live endpoints
// by health rather than static configuration, and watching for sibling
// servers when the anti-replay guard (C10) needs to know the full fleet.
package registry

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hashicorp/consul/api"
)

const serviceName = "skdp-server"

// ConsulRegistry registers and deregisters this server's TCP/WebSocket
// endpoint in Consul's service catalog.
type ConsulRegistry struct {
	client     *api.Client
	serviceID  string
	serverID   string
	serverPort int
}

// NewConsulRegistry connects to the Consul agent at addr.
func NewConsulRegistry(addr, serverID string, serverPort int) (*ConsulRegistry, error) {
	cfg := api.DefaultConfig()
	cfg.Address = addr

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &ConsulRegistry{
		client:     client,
		serviceID:  serverID,
		serverID:   serverID,
		serverPort: serverPort,
	}, nil
}

// Register advertises this server as a healthy skdp-server instance.
// Consul's health check hits the admin API's /health endpoint (C12)
// rather than the SKDP socket itself, since the protocol has no bare
// liveness probe outside an established session.
func (c *ConsulRegistry) Register(adminPort int) error {
	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("registry: failed to resolve hostname, using localhost: %v", err)
		hostname = "localhost"
	}

	registration := &api.AgentServiceRegistration{
		ID:      c.serviceID,
		Name:    serviceName,
		Port:    c.serverPort,
		Address: hostname,
		Tags:    []string{"skdp", "kex"},
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", hostname, adminPort),
			Interval:                       "10s",
			Timeout:                        "3s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Meta: map[string]string{
			"server_id": c.serverID,
		},
	}

	if err := c.client.Agent().ServiceRegister(registration); err != nil {
		return err
	}
	log.Printf("registry: registered with Consul: %s", c.serviceID)
	return nil
}

// Deregister removes this server from Consul's catalog.
func (c *ConsulRegistry) Deregister() error {
	if err := c.client.Agent().ServiceDeregister(c.serviceID); err != nil {
		return err
	}
	log.Printf("registry: deregistered from Consul: %s", c.serviceID)
	return nil
}

// HealthyServers returns the IDs of all currently healthy skdp-server
// instances.
func (c *ConsulRegistry) HealthyServers() ([]string, error) {
	services, _, err := c.client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return nil, err
	}
	servers := make([]string, 0, len(services))
	for _, svc := range services {
		servers = append(servers, svc.Service.ID)
	}
	return servers, nil
}

// WatchServices blocks, invoking callback whenever the set of healthy
// servers changes. Callers run it in its own goroutine.
func (c *ConsulRegistry) WatchServices(callback func([]string)) {
	var lastIndex uint64
	for {
		services, meta, err := c.client.Health().Service(serviceName, "", true, &api.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  5 * time.Minute,
		})
		if err != nil {
			log.Printf("registry: watch error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if meta.LastIndex == lastIndex {
			continue
		}
		lastIndex = meta.LastIndex
		servers := make([]string, 0, len(services))
		for _, svc := range services {
			servers = append(servers, svc.Service.ID)
		}
		callback(servers)
	}
}
