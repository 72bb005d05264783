package simgpu

import (
	"fmt"

	"vk-render-engine/gpu"
)

type EventKind int

const (
	EventAcquire EventKind = iota
	EventSubmit
	EventPresent
	EventFenceWait
	EventFenceReset
	EventRetire
	EventWaitIdle
	EventSingleUse
	EventSwapchainCreate
	EventSwapchainDestroy
	EventPoll
	EventWaitEvents
)

var eventNames = [...]string{
	EventAcquire:          "acquire",
	EventSubmit:           "submit",
	EventPresent:          "present",
	EventFenceWait:        "fence-wait",
	EventFenceReset:       "fence-reset",
	EventRetire:           "retire",
	EventWaitIdle:         "wait-idle",
	EventSingleUse:        "single-use",
	EventSwapchainCreate:  "swapchain-create",
	EventSwapchainDestroy: "swapchain-destroy",
	EventPoll:             "poll",
	EventWaitEvents:       "wait-events",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one entry of the device timeline.
//
// Object is the id of the fence, swapchain or command buffer involved.
// Image is the swapchain image index for acquire, submit and present.
type Event struct {
	Kind   EventKind
	Object uint64
	Image  uint32
	Status gpu.Status
	Extent gpu.Extent2D
}

func (e Event) String() string {
	switch e.Kind {
	case EventAcquire, EventPresent:
		return fmt.Sprintf("%s(#%d image=%d %s)", e.Kind, e.Object, e.Image, e.Status)
	case EventSubmit:
		return fmt.Sprintf("%s(#%d image=%d)", e.Kind, e.Object, e.Image)
	case EventPoll, EventSwapchainCreate:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Extent)
	}
	return fmt.Sprintf("%s(#%d)", e.Kind, e.Object)
}

// Filter returns the events of the given kinds, in order.
func Filter(events []Event, kinds ...EventKind) []Event {
	var out []Event
	for _, e := range events {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
