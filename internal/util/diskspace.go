package util

const gib = 1024 * 1024 * 1024

// DiskSpaceInfo describes the filesystem holding a path, in GiB.
type DiskSpaceInfo struct {
	AvailGB float64
	TotalGB float64
	UsedGB  float64
}

func newDiskSpaceInfo(avail, total uint64) DiskSpaceInfo {
	a := float64(avail) / gib
	t := float64(total) / gib
	return DiskSpaceInfo{AvailGB: a, TotalGB: t, UsedGB: t - a}
}

// Low reports whether less than minGB is free.
func (d DiskSpaceInfo) Low(minGB int) bool {
	return d.AvailGB < float64(minGB)
}
