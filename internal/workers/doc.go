/*
Package workers determines worker pool sizes that respect container CPU
limits.

In containers the host CPU count reported by runtime.NumCPU() can be far
larger than what the cgroup actually grants. Go 1.19+ sets GOMAXPROCS from
the container CPU limit, so this package sizes pools from GOMAXPROCS
instead:

	// transcode pool: one ffmpeg subprocess saturates a core
	numWorkers := workers.ForCPU(8)

	// blob copies and other I/O-heavy pools
	numWorkers := workers.ForIO(16)

Operators can override the computed count with the TRANSCODE_WORKERS
environment variable, which is useful when the box also runs other
CPU-hungry processes:

	env:
	- name: TRANSCODE_WORKERS
	  value: "4"

Always pass a positive limit so a large bare-metal host does not spawn an
ffmpeg per core when downstream storage cannot keep up.
*/
package workers
