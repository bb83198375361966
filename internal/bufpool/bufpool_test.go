package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSizeClasses(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantCap int
	}{
		{name: "tiny", size: 10, wantCap: SmallSize},
		{name: "small boundary", size: SmallSize, wantCap: SmallSize},
		{name: "medium", size: SmallSize + 1, wantCap: MediumSize},
		{name: "large", size: MediumSize + 1, wantCap: LargeSize},
		{name: "oversized", size: LargeSize + 1, wantCap: LargeSize + 1},
	}

	p := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := p.Get(tt.size)
			assert.Len(t, buf, tt.size)
			assert.Equal(t, tt.wantCap, cap(buf))
			p.Put(buf)
		})
	}
}

func TestPutIgnoresForeignSlices(t *testing.T) {
	p := New()
	assert.NotPanics(t, func() {
		p.Put(nil)
		p.Put(make([]byte, 17))
	})
}

func TestGlobalPool(t *testing.T) {
	buf := Get(MediumSize)
	assert.Len(t, buf, MediumSize)
	Put(buf)
}
