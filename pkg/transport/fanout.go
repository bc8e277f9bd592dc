package transport

import "sync"

// FanOutPublication composes several Publications (typically one
// TCPTransport publication per peer) into a single Publication, so the
// agent can keep broadcasting peer/log traffic through one handle exactly
// as it does against the in-process Bus's implicit multicast. Offer writes
// to every member and reports ErrBackPressured if any one of them could
// not accept the frame, so the caller retries the whole broadcast on a
// later tick rather than risk members diverging on what they've seen.
type FanOutPublication struct {
	mu      sync.Mutex
	members []Publication
}

// NewFanOutPublication returns a Publication broadcasting to members.
func NewFanOutPublication(members ...Publication) *FanOutPublication {
	return &FanOutPublication{members: members}
}

func (f *FanOutPublication) Offer(data []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var pos int64
	var backPressured bool
	for _, m := range f.members {
		p, err := m.Offer(data)
		switch {
		case err == nil:
			pos = p
		case err == ErrBackPressured:
			backPressured = true
		default:
			return 0, err
		}
	}
	if backPressured {
		return 0, ErrBackPressured
	}
	return pos, nil
}

func (f *FanOutPublication) Position() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var max int64
	for _, m := range f.members {
		if p := m.Position(); p > max {
			max = p
		}
	}
	return max
}

func (f *FanOutPublication) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for _, m := range f.members {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
