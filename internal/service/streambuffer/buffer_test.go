package streambuffer

import (
	"testing"

	"edgeclassifier/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func newFrame(t *testing.T, uri string, seq uint64) *model.Frame {
	t.Helper()
	f := model.NewFrame(uri, seq, gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3))
	t.Cleanup(func() { f.Close() })
	return f
}

func tensorWith(v float32) model.Tensor {
	tensor := model.NewTensor()
	tensor.Data[0] = v
	return tensor
}

func TestGet_Missing(t *testing.T) {
	b := New()
	_, ok := b.Get("rtsp://cam1")
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
}

func TestSet_PinsAndUnpins(t *testing.T) {
	b := New()
	first := newFrame(t, "cam1", 1)
	second := newFrame(t, "cam1", 2)

	b.Set("cam1", model.Entry{Raw: first, Tensor: tensorWith(1)})
	assert.True(t, first.Pinned())

	b.Set("cam1", model.Entry{Raw: second, Tensor: tensorWith(2)})
	assert.False(t, first.Pinned())
	assert.True(t, second.Pinned())

	entry, ok := b.Get("cam1")
	require.True(t, ok)
	assert.Same(t, second, entry.Raw)
	assert.Equal(t, float32(2), entry.Tensor.Data[0])
}

func TestSet_SameFrameStaysPinned(t *testing.T) {
	b := New()
	frame := newFrame(t, "cam1", 1)

	b.Set("cam1", model.Entry{Raw: frame, Tensor: tensorWith(1)})
	b.Set("cam1", model.Entry{Raw: frame, Tensor: tensorWith(2)})

	assert.True(t, frame.Pinned())
}

func TestStreamsAreIndependent(t *testing.T) {
	b := New()
	a1 := newFrame(t, "A", 1)
	b1 := newFrame(t, "B", 1)
	b.Set("A", model.Entry{Raw: a1, Tensor: tensorWith(10)})
	b.Set("B", model.Entry{Raw: b1, Tensor: tensorWith(20)})

	for seq := uint64(2); seq <= 5; seq++ {
		b.Set("A", model.Entry{Raw: newFrame(t, "A", seq), Tensor: tensorWith(float32(seq))})

		entry, ok := b.Get("B")
		require.True(t, ok)
		assert.Same(t, b1, entry.Raw)
		assert.Equal(t, float32(20), entry.Tensor.Data[0])
		assert.True(t, b1.Pinned())
	}
	assert.Equal(t, []string{"A", "B"}, b.Streams())
}

func TestRemove(t *testing.T) {
	b := New()
	frame := newFrame(t, "cam1", 1)
	b.Set("cam1", model.Entry{Raw: frame, Tensor: tensorWith(1)})

	assert.True(t, b.Remove("cam1"))
	assert.False(t, frame.Pinned())
	assert.False(t, b.Remove("cam1"))
	assert.Equal(t, 0, b.Len())
}
