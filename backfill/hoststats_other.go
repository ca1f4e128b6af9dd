//go:build !linux

package backfill

import "errors"

// HostSampler is unavailable on this platform; the limit stays fixed
type HostSampler struct {
	MeminfoPath string
}

func (HostSampler) Sample() (Usage, error) {
	return Usage{}, errors.New("host usage sampling is only supported on linux")
}
