package orchestrator

import (
	"fmt"
	"sync"

	"github.com/cih1996/AI-intelligent-agent-system/internal/agentruntime"
	"github.com/cih1996/AI-intelligent-agent-system/internal/executor"
	"github.com/cih1996/AI-intelligent-agent-system/internal/providers"
	"github.com/cih1996/AI-intelligent-agent-system/internal/session"
)

// Templates holds the seven agent roles' prompt templates (spec §9,
// "Prompt templates"). These are external collaborators loaded once at
// startup; the orchestrator only ever renders them.
type Templates struct {
	MemoryManager *agentruntime.Template
	MemoryRouter  *agentruntime.Template
	Planner       *agentruntime.Template
	Supervisor    *agentruntime.Template
	Router        *agentruntime.Template
	Executor      *agentruntime.Template
	MemoryShards  *agentruntime.Template
}

// AgentBundle is the set of live Agent Runtime instances for one cid
// (spec §9, "Process-wide agent cache").
type AgentBundle struct {
	MemoryManager *agentruntime.Runtime
	MemoryRouter  *agentruntime.Runtime
	Planner       *agentruntime.Runtime
	Supervisor    *agentruntime.Runtime
	Router        *agentruntime.Runtime
	MemoryShards  *agentruntime.Runtime
	ExecutorLoop  *executor.Loop
}

func newAgentBundle(cid string, templates Templates, provider providers.Provider, store session.Store, clock agentruntime.Clock, pool executor.ToolInvoker) (*AgentBundle, error) {
	build := func(name string, tmpl *agentruntime.Template) (*agentruntime.Runtime, error) {
		runtime, err := agentruntime.New(name, cid, tmpl, provider, store, clock)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: build %s agent: %w", name, err)
		}
		return runtime, nil
	}

	memoryManager, err := build("memory-manager", templates.MemoryManager)
	if err != nil {
		return nil, err
	}
	memoryRouter, err := build("memory-router", templates.MemoryRouter)
	if err != nil {
		return nil, err
	}
	planner, err := build("planner", templates.Planner)
	if err != nil {
		return nil, err
	}
	supervisor, err := build("supervisor", templates.Supervisor)
	if err != nil {
		return nil, err
	}
	router, err := build("router", templates.Router)
	if err != nil {
		return nil, err
	}
	memoryShards, err := build("memory-shards", templates.MemoryShards)
	if err != nil {
		return nil, err
	}
	executorAgent, err := build("executor", templates.Executor)
	if err != nil {
		return nil, err
	}

	return &AgentBundle{
		MemoryManager: memoryManager,
		MemoryRouter:  memoryRouter,
		Planner:       planner,
		Supervisor:    supervisor,
		Router:        router,
		MemoryShards:  memoryShards,
		ExecutorLoop:  executor.New(executorAgent, pool),
	}, nil
}

// bundleCache is the process-wide, lock-guarded map of live agent
// bundles keyed by cid (spec §5 "Shared resources", §9 "Process-wide
// agent cache"). The lock covers only lookup-or-create.
type bundleCache struct {
	mu      sync.Mutex
	bundles map[string]*AgentBundle
}

func newBundleCache() *bundleCache {
	return &bundleCache{bundles: make(map[string]*AgentBundle)}
}

func (c *bundleCache) getOrCreate(cid string, templates Templates, provider providers.Provider, store session.Store, clock agentruntime.Clock, pool executor.ToolInvoker) (*AgentBundle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if bundle, ok := c.bundles[cid]; ok {
		return bundle, nil
	}

	bundle, err := newAgentBundle(cid, templates, provider, store, clock, pool)
	if err != nil {
		return nil, err
	}
	c.bundles[cid] = bundle
	return bundle, nil
}

// evict removes a cid's cached bundle (spec §4.9, DELETE endpoint).
func (c *bundleCache) evict(cid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bundles, cid)
}

// size returns the number of live cached bundles, for the
// active-conversations gauge.
func (c *bundleCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bundles)
}
