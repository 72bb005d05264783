package simgpu

import "vk-render-engine/gpu"

// Surface is the drawable the simulated device presents to. It plays the
// window: its extent can be changed at any time and a script of extents is
// consumed by WaitEvents, one per platform event.
type Surface struct {
	dev *Device

	extent  gpu.Extent2D
	resized bool
	script  []gpu.Extent2D

	polls, zeroPolls, waits int
}

func (s *Surface) Extent() gpu.Extent2D {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.polls++
	if s.extent.IsZero() {
		s.zeroPolls++
	}
	s.dev.eventLocked(Event{Kind: EventPoll, Extent: s.extent})
	return s.extent
}

func (s *Surface) WasResized() bool {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.resized
}

func (s *Surface) ResetResized() {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.resized = false
}

// WaitEvents delivers the next scripted extent, if any. Without a script
// it returns immediately, as a spurious wake-up would.
func (s *Surface) WaitEvents() {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.waits++
	s.dev.eventLocked(Event{Kind: EventWaitEvents})
	if len(s.script) > 0 {
		s.setLocked(s.script[0])
		s.script = s.script[1:]
	}
}

// Resize changes the drawable size and raises the resized flag.
func (s *Surface) Resize(extent gpu.Extent2D) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.setLocked(extent)
}

// MarkResized raises the resized flag without changing the size.
func (s *Surface) MarkResized() {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.resized = true
}

// Script queues extents delivered one per WaitEvents call.
func (s *Surface) Script(extents ...gpu.Extent2D) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.script = append(s.script, extents...)
}

func (s *Surface) setLocked(extent gpu.Extent2D) {
	if extent != s.extent {
		s.resized = true
	}
	s.extent = extent
}

func (s *Surface) Polls() int {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.polls
}

// ZeroPolls counts Extent calls that reported a zero extent.
func (s *Surface) ZeroPolls() int {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.zeroPolls
}

func (s *Surface) Waits() int {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.waits
}
