package gpu

import "github.com/pkg/errors"

var (
	// ErrTimeout is returned by Fence.Wait when the timeout elapsed before
	// the fence was signaled.
	ErrTimeout = errors.New("gpu: wait timed out")

	// ErrDeviceLost means the logical device can no longer be used.
	ErrDeviceLost = errors.New("gpu: device lost")

	// ErrNoSurfaceFormats means the surface reports no formats or no
	// present modes and cannot back a swapchain.
	ErrNoSurfaceFormats = errors.New("gpu: surface has no formats or present modes")

	// ErrNoSupportedFormat is returned by FindSupportedFormat when none of
	// the candidates qualifies.
	ErrNoSupportedFormat = errors.New("gpu: no supported format")

	// ErrNotHostVisible is returned when mapping a buffer that lives in
	// device-local memory.
	ErrNotHostVisible = errors.New("gpu: buffer is not host visible")

	// ErrNotMapped is returned by Buffer.Write and Buffer.Flush on a buffer
	// that is not mapped.
	ErrNotMapped = errors.New("gpu: buffer is not mapped")

	// ErrOutOfRange is returned by Buffer.Write when the data does not fit.
	ErrOutOfRange = errors.New("gpu: write out of buffer range")
)

// CheckRange reports ErrOutOfRange when n bytes at offset do not fit in a
// buffer of the given size.
func CheckRange(size, offset uint64, n int) error {
	if offset > size || uint64(n) > size-offset {
		return errors.Wrapf(ErrOutOfRange, "%d bytes at offset %d in %d-byte buffer", n, offset, size)
	}
	return nil
}
