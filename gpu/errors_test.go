package gpu

import (
	"testing"

	"github.com/pkg/errors"
)

func TestCheckRange(t *testing.T) {
	tests := []struct {
		size, offset uint64
		n            int
		ok           bool
	}{
		{256, 0, 256, true},
		{256, 128, 128, true},
		{256, 256, 0, true},
		{256, 128, 129, false},
		{256, 300, 0, false},
	}
	for _, tt := range tests {
		err := CheckRange(tt.size, tt.offset, tt.n)
		if (err == nil) != tt.ok {
			t.Errorf("CheckRange(%d, %d, %d) = %v, want ok=%v", tt.size, tt.offset, tt.n, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrOutOfRange) {
			t.Errorf("CheckRange error %v does not wrap ErrOutOfRange", err)
		}
	}
}
