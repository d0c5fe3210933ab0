package prof

import (
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"sync"

	"github.com/efficientgo/core/errors"

	"github.com/ardnew/softmsc/pkg"
)

// PathPrefix is where Register mounts the profile handlers.
const PathPrefix = "/debug/pprof/"

// Register mounts the pprof handlers under PathPrefix. A positive rate
// enables block and mutex sampling at that rate.
func Register(mux *http.ServeMux, rate int) {
	mux.HandleFunc(PathPrefix, pprof.Index)
	mux.HandleFunc(PathPrefix+"cmdline", pprof.Cmdline)
	mux.HandleFunc(PathPrefix+"profile", pprof.Profile)
	mux.HandleFunc(PathPrefix+"symbol", pprof.Symbol)
	mux.HandleFunc(PathPrefix+"trace", pprof.Trace)
	if rate > 0 {
		runtime.SetBlockProfileRate(rate)
		runtime.SetMutexProfileFraction(rate)
	}
}

var cpu struct {
	sync.Mutex
	file *os.File
}

// StartCPU starts a CPU profile written to path. The returned function
// stops it and closes the file. Only one CPU profile can run at a time.
func StartCPU(path string) (func() error, error) {
	cpu.Lock()
	defer cpu.Unlock()

	if cpu.file != nil {
		return nil, errors.Wrap(pkg.ErrBusy, "cpu profile already active")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create cpu profile")
	}
	if err := rpprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "start cpu profile")
	}
	cpu.file = f

	return func() error {
		cpu.Lock()
		defer cpu.Unlock()
		if cpu.file != f {
			return nil
		}
		rpprof.StopCPUProfile()
		cpu.file = nil
		return f.Close()
	}, nil
}
