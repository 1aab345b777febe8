//go:build !unix

package hoststats

// ProcessCPU is unavailable on this platform and always reports unknown.
type ProcessCPU struct{}

// NewProcessCPU returns a CPU reader that reports unknown load.
func NewProcessCPU() *ProcessCPU { return &ProcessCPU{} }

// ReadCPU implements CPUReader.
func (p *ProcessCPU) ReadCPU() (float64, bool) { return 0, false }
