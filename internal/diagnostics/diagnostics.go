// Package diagnostics reports runtime environment facts useful in a
// support bundle: architecture, OS, Go version, and the SIMD extensions
// available to the zstd codec's assembly paths. It never gates
// correctness, only what gets logged at --debug verbosity.
package diagnostics

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// Info is a snapshot of the runtime environment.
type Info struct {
	Arch      string
	OS        string
	GoVersion string
	NumCPU    int
	SIMD      map[string]bool
}

// Collect gathers the current runtime environment's diagnostic info.
func Collect() Info {
	return Info{
		Arch:      runtime.GOARCH,
		OS:        runtime.GOOS,
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
		SIMD:      simdFeatures(),
	}
}

// simdFeatures reports the SIMD extensions relevant to the zstd codec's
// assembly-accelerated paths, by architecture.
func simdFeatures() map[string]bool {
	features := map[string]bool{}
	switch runtime.GOARCH {
	case "amd64":
		features["sse2"] = cpu.X86.HasSSE2
		features["ssse3"] = cpu.X86.HasSSSE3
		features["avx"] = cpu.X86.HasAVX
		features["avx2"] = cpu.X86.HasAVX2
	case "arm64":
		features["neon"] = cpu.ARM64.HasASIMD
	}
	return features
}

// AsMap flattens Info into a generic map, convenient for structured log
// fields or embedding in a JSON support bundle.
func (i Info) AsMap() map[string]interface{} {
	m := map[string]interface{}{
		"arch":       i.Arch,
		"os":         i.OS,
		"go_version": i.GoVersion,
		"num_cpu":    i.NumCPU,
	}
	for k, v := range i.SIMD {
		m["simd_"+k] = v
	}
	return m
}
