package governor

// MemInfo reports process-resident and physical-total memory in bytes.
type MemInfo struct {
	ResidentBytes uint64
	TotalBytes    uint64
}

// MemProbe reads current memory usage. Probe failures are treated as a pass
// by the governor: the memory gate is a liveness safeguard, not a hard cap.
type MemProbe func() (MemInfo, error)

// SystemMemProbe returns the platform probe for this GOOS.
func SystemMemProbe() MemProbe {
	return readMemInfo
}
