// pkg/docker/engine.go

package docker

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/catalog"
)

// Engine converges containers to the declared service specs.
type Engine interface {
	// EnsureActive brings the engine up; nothing else may be called before it succeeds.
	EnsureActive(ctx context.Context) (*EngineInfo, error)
	// Converge replaces each spec's container, in order.
	Converge(ctx context.Context, specs []catalog.ServiceSpec) ([]ServiceResult, error)
	// List returns hearth-managed containers.
	List(ctx context.Context) ([]ContainerStatus, error)
	Close() error
}

// ServiceResult reports one converged service.
type ServiceResult struct {
	Service     string
	ContainerID string
	Pulled      bool
	Replaced    bool
	Duration    time.Duration
}

// ContainerStatus is one managed container as the engine sees it.
type ContainerStatus struct {
	Name    string
	Service string
	Image   string
	State   string
	Status  string
	Ports   []string
}

// Running reports whether the container is up.
func (c ContainerStatus) Running() bool {
	return c.State == "running"
}
