package chronicle

// RSM is a named downstream state machine a committed Config can route
// RsmCommand entries to. The proposer itself never applies commands; it
// only uses the registry built from RsmConfig to admit or reject
// commands by name (unknown_rsm). Application happens downstream, in
// the server shell, once the local agent reports the command's seqno
// committed — see cmd/chronicled and kvrsm for a worked example.
type RSM interface {
	// Name returns the identifier commands reference to route to this
	// machine, matching RsmConfig.Name.
	Name() string
}

// RsmRegistry builds a name -> RSM lookup from a Config's declared
// state machines, consulting factory for each one to construct the
// concrete RSM instance. Replaces the teacher's open export/rebind
// pattern (§9, design note): unknown names fail admission cleanly
// rather than silently rebinding to a default.
type RsmRegistry struct {
	byName map[string]RSM
}

// RsmFactory constructs an RSM instance from its declared configuration.
// Returning (nil, false) causes BuildRsmRegistry to omit that entry
// from the registry, so a command naming it is rejected as unknown.
type RsmFactory func(cfg RsmConfig) (RSM, bool)

// BuildRsmRegistry constructs a registry from cfg's StateMachines,
// called by the proposer at startup and every time a config-bearing
// entry commits (§4.5).
func BuildRsmRegistry(cfg Config, factory RsmFactory) *RsmRegistry {
	reg := &RsmRegistry{byName: map[string]RSM{}}
	for name, smCfg := range cfg.StateMachines {
		if rsm, ok := factory(smCfg); ok {
			reg.byName[name] = rsm
		}
	}
	return reg
}

// Lookup returns the RSM registered under name, if any.
func (r *RsmRegistry) Lookup(name string) (RSM, bool) {
	if r == nil {
		return nil, false
	}
	rsm, ok := r.byName[name]
	return rsm, ok
}
