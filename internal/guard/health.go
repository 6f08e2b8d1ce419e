package guard

import (
	"context"

	"github.com/codectx/codectx/internal/embed"
	"github.com/codectx/codectx/internal/store"
)

// Component health states.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthError    = "error"
)

// ComponentHealth is one probe result.
type ComponentHealth struct {
	Component string `json:"component"`
	State     string `json:"state"`
	Detail    string `json:"detail,omitempty"`
}

// HealthCheck probes each configured component with a cheap operation.
// Nil components are simply not reported.
type HealthCheck struct {
	vectors  store.VectorStore
	metadata store.MetadataStore
	keywords store.KeywordIndex
	graph    store.GraphStore
	embedder embed.Embedder
}

// NewHealthCheck wires a health check over the configured components.
func NewHealthCheck(
	vectors store.VectorStore,
	metadata store.MetadataStore,
	keywords store.KeywordIndex,
	graph store.GraphStore,
	embedder embed.Embedder,
) *HealthCheck {
	return &HealthCheck{
		vectors:  vectors,
		metadata: metadata,
		keywords: keywords,
		graph:    graph,
		embedder: embedder,
	}
}

// Check runs every probe. A component that answers but holds no data is
// degraded, not broken: retrieval still works, it just has nothing to say.
func (h *HealthCheck) Check(ctx context.Context) []ComponentHealth {
	var results []ComponentHealth

	if h.vectors != nil {
		state := HealthOK
		if h.vectors.Count() == 0 {
			state = HealthDegraded
		}
		results = append(results, ComponentHealth{Component: "vector_store", State: state})
	}

	if h.metadata != nil {
		health := ComponentHealth{Component: "metadata_store", State: HealthOK}
		count, err := h.metadata.Count(ctx)
		switch {
		case err != nil:
			health.State = HealthError
			health.Detail = err.Error()
		case count == 0:
			health.State = HealthDegraded
		}
		results = append(results, health)
	}

	if h.keywords != nil {
		health := ComponentHealth{Component: "keyword_index", State: HealthOK}
		count, err := h.keywords.Count()
		switch {
		case err != nil:
			health.State = HealthError
			health.Detail = err.Error()
		case count == 0:
			health.State = HealthDegraded
		}
		results = append(results, health)
	}

	if h.graph != nil {
		state := HealthOK
		if h.graph.Size() == 0 {
			state = HealthDegraded
		}
		results = append(results, ComponentHealth{Component: "graph_store", State: state})
	}

	if h.embedder != nil {
		health := ComponentHealth{Component: "embedder", State: HealthOK}
		if !h.embedder.Available(ctx) {
			health.State = HealthError
			health.Detail = "provider not reachable"
		}
		results = append(results, health)
	}

	return results
}
