package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/golang/glog"
)

const (
	memProfileRate = 4096
	timeFormat     = "20060102_150405"
)

// Profiler is one on-demand profiling session, toggled by SIGUSR2.
type Profiler struct {
	dataDir string
	stops   []func()
}

// StartProfiler starts cpu, heap, mutex and block profiling into dataDir.
func StartProfiler(dataDir string) *Profiler {
	p := &Profiler{dataDir: dataDir}

	if f := p.create("cpu"); f != nil {
		if err := pprof.StartCPUProfile(f); err != nil {
			glog.Errorf("pprof: start cpu profile err: %v", err)
			f.Close()
		} else {
			p.stops = append(p.stops, func() {
				pprof.StopCPUProfile()
				f.Close()
			})
		}
	}

	oldRate := runtime.MemProfileRate
	runtime.MemProfileRate = memProfileRate
	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)
	p.stops = append(p.stops, func() {
		for _, name := range []string{"heap", "mutex", "block"} {
			p.write(name, 0)
		}
		runtime.MemProfileRate = oldRate
		runtime.SetMutexProfileFraction(0)
		runtime.SetBlockProfileRate(0)
	})

	glog.Infof("pprof: profiling enabled, dir: %s", dataDir)
	return p
}

// Stop writes the profiles.
func (p *Profiler) Stop() {
	for _, stop := range p.stops {
		stop()
	}
	p.stops = nil
	glog.Infof("pprof: profiling disabled, dir: %s", p.dataDir)
}

func (p *Profiler) create(kind string) *os.File {
	fn := filepath.Join(p.dataDir, fmt.Sprintf("%s-%s.pprof", kind, time.Now().Format(timeFormat)))
	f, err := os.Create(fn)
	if err != nil {
		glog.Errorf("pprof: could not create %s profile %q: %v", kind, fn, err)
		return nil
	}
	return f
}

func (p *Profiler) write(name string, debug int) {
	f := p.create(name)
	if f == nil {
		return
	}
	defer f.Close()
	if err := pprof.Lookup(name).WriteTo(f, debug); err != nil {
		glog.Errorf("pprof: write %s profile err: %v", name, err)
	}
}

// dumpGoroutines writes the goroutine stacks, handy to inspect stuck
// sessions and reply timers.
func dumpGoroutines(dataDir string) {
	p := &Profiler{dataDir: dataDir}
	p.write("goroutine", 2)
}
