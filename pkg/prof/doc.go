// Package prof captures pprof profiles of a running simulator.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./cmd/sdio-sim
//
// Without the tag every function is a no-op, so callers keep their
// profiling hooks in place at no cost.
//
// # Sessions
//
// A [Session] is driven by a [Config], normally the profile section of the
// simulator configuration:
//
//	s, err := prof.Start(prof.Config{
//	    Dir:      "profiles",
//	    Profiles: []prof.Profile{prof.ProfileCPU, prof.ProfileHeap},
//	})
//	if err != nil {
//	    return err
//	}
//	defer s.Stop()
//
// The CPU profile covers the whole session. Other profiles are snapshots
// written by Stop, one <name>.pprof file each.
//
// # HTTP
//
// [Register] mounts the standard /debug/pprof/ handlers on a mux, which the
// simulator serves next to its metrics endpoint.
package prof
