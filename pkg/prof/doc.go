// Package prof exposes runtime profiles of a running engine.
//
// Register mounts the net/http/pprof handlers on a caller's mux, next to
// its health and metrics endpoints. StartCPU writes a CPU profile to a file
// for the lifetime of one command:
//
//	stop, err := prof.StartCPU("mscctl.cpu")
//	if err != nil {
//	    return err
//	}
//	defer stop()
package prof
