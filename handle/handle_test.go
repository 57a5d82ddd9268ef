package handle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle uintptr

type fakeDevice struct {
	name      string
	destroyed []string
}

func (d *fakeDevice) destroy(kind string) DestroyFunc[fakeHandle, *fakeDevice] {
	return func(h fakeHandle, owner *fakeDevice) {
		owner.destroyed = append(owner.destroyed, fmt.Sprintf("%s:%d", kind, h))
	}
}

func TestCreateWrapsFactory(t *testing.T) {
	dev := &fakeDevice{name: "gpu0"}

	var gotOwner *fakeDevice
	h, err := Create(dev, func(owner *fakeDevice) (fakeHandle, error) {
		gotOwner = owner
		return 7, nil
	}, dev.destroy("buffer"))
	require.NoError(t, err)

	assert.Same(t, dev, gotOwner)
	assert.True(t, h.Valid())
	assert.Same(t, dev, h.Owner())

	raw, err := h.Get()
	require.NoError(t, err)
	assert.Equal(t, fakeHandle(7), raw)
}

func TestCreateFailure(t *testing.T) {
	dev := &fakeDevice{}
	nativeErr := errors.New("out of device memory")

	h, err := Create(dev, func(*fakeDevice) (fakeHandle, error) {
		return 0, nativeErr
	}, dev.destroy("buffer"))

	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrCreation)
	assert.ErrorIs(t, err, nativeErr)

	h, err = Create(dev, func(*fakeDevice) (fakeHandle, error) {
		return 0, nil
	}, dev.destroy("buffer"))
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrCreation)
	assert.ErrorIs(t, err, ErrNullHandle)
}

func TestMoveTransfersOwnership(t *testing.T) {
	dev := &fakeDevice{}
	src := Wrap(fakeHandle(42), dev, dev.destroy("image"))

	dst := src.Move()

	assert.False(t, src.Valid())
	_, err := src.Get()
	assert.ErrorIs(t, err, ErrNullHandle)

	raw, err := dst.Get()
	require.NoError(t, err)
	assert.Equal(t, fakeHandle(42), raw)

	src.Destroy()
	dst.Destroy()
	dst.Destroy()
	src.Destroy()

	assert.Equal(t, []string{"image:42"}, dev.destroyed)
}

func TestTakeDestroysCurrentFirst(t *testing.T) {
	dev := &fakeDevice{}
	a := Wrap(fakeHandle(1), dev, dev.destroy("view"))
	b := Wrap(fakeHandle(2), dev, dev.destroy("view"))

	a.Take(b)

	assert.Equal(t, []string{"view:1"}, dev.destroyed)
	assert.False(t, b.Valid())
	assert.Equal(t, fakeHandle(2), a.Must())

	a.Take(a)
	assert.True(t, a.Valid())

	a.Destroy()
	assert.Equal(t, []string{"view:1", "view:2"}, dev.destroyed)
}

func TestTakeFromEmpty(t *testing.T) {
	dev := &fakeDevice{}
	a := Wrap(fakeHandle(3), dev, dev.destroy("fence"))

	a.Take(&Owned[fakeHandle, *fakeDevice]{})

	assert.False(t, a.Valid())
	assert.Equal(t, []string{"fence:3"}, dev.destroyed)
}

func TestMustPanicsOnEmpty(t *testing.T) {
	var empty Owned[fakeHandle, *fakeDevice]

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.ErrorIs(t, err, ErrNullHandle)

		var nullErr *NullHandleError
		assert.ErrorAs(t, err, &nullErr)
	}()

	empty.Must()
}

func TestDestroyEmptyIsNoop(t *testing.T) {
	var nilOwned *Owned[fakeHandle, *fakeDevice]
	assert.NotPanics(t, nilOwned.Destroy)

	empty := Wrap[fakeHandle](0, &fakeDevice{}, func(fakeHandle, *fakeDevice) {
		t.Fatal("destroy called for an empty handle")
	})
	assert.False(t, empty.Valid())
	empty.Destroy()
}

func TestBorrowNeverDestroys(t *testing.T) {
	dev := &fakeDevice{}
	owned := Wrap(fakeHandle(9), dev, dev.destroy("sampler"))

	alias := owned.Borrow()
	aliasCopy := alias

	assert.Equal(t, fakeHandle(9), aliasCopy.Must())
	assert.Empty(t, dev.destroyed)

	owned.Destroy()
	assert.Equal(t, []string{"sampler:9"}, dev.destroyed)

	var none Borrowed[fakeHandle]
	_, err := none.Get()
	assert.ErrorIs(t, err, ErrNullHandle)
	assert.Panics(t, func() { none.Must() })
}

func TestRelease(t *testing.T) {
	dev := &fakeDevice{}
	owned := Wrap(fakeHandle(5), dev, dev.destroy("pool"))

	raw := owned.Release()
	owned.Destroy()

	assert.Equal(t, fakeHandle(5), raw)
	assert.Empty(t, dev.destroyed)
}

func TestStackDestroysInReverse(t *testing.T) {
	dev := &fakeDevice{}
	image := Wrap(fakeHandle(1), dev, dev.destroy("image"))
	memory := Wrap(fakeHandle(2), dev, dev.destroy("memory"))
	view := Wrap(fakeHandle(3), dev, dev.destroy("view"))

	var s Stack
	s.Push(image)
	s.Push(memory)
	s.Push(view)
	s.Push(nil)
	assert.Equal(t, 3, s.Len())

	s.Destroy()
	s.Destroy()

	assert.Equal(t, []string{"view:3", "memory:2", "image:1"}, dev.destroyed)
	assert.Zero(t, s.Len())
}

func TestStackForget(t *testing.T) {
	called := false
	var s Stack
	s.PushFunc(func() { called = true })
	s.Forget()
	s.Destroy()
	assert.False(t, called)
}
