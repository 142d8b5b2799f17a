package gremlin

// Provider tags the graph system a Cluster talks to (spec.md §6's
// "provider" config key, `aiogremlin/driver/provider.py`). It is carried as
// Config.Provider; no code in this package branches on it.
type Provider string

// TinkerGraph is the default Provider, matching aiogremlin's
// Cluster.DEFAULT_CONFIG['provider'].
const TinkerGraph Provider = "tinkergraph"
