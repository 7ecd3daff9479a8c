package dio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAllocateAligned(t *testing.T) {
	for _, alignment := range []int{1, 8, 512, 4096, 65536} {
		for _, size := range []int{1, 511, 512, 4097, 1 << 20} {
			buf, err := Allocate(size, alignment)
			if err != nil {
				t.Fatalf("Allocate(%d, %d): %v", size, alignment, err)
			}
			if len(buf) != size {
				t.Errorf("Allocate(%d, %d): len %d", size, alignment, len(buf))
			}
			if !IsAligned(buf, alignment) {
				t.Errorf("Allocate(%d, %d): buffer not aligned", size, alignment)
			}
		}
	}
}

func TestAllocateInvalidLayout(t *testing.T) {
	cases := []struct{ size, alignment int }{
		{0, 512},
		{-1, 512},
		{4096, 0},
		{4096, -512},
		{4096, 3},
		{4096, 1000},
	}
	for _, c := range cases {
		_, err := Allocate(c.size, c.alignment)
		var aerr *AllocationError
		if !errors.As(err, &aerr) {
			t.Errorf("Allocate(%d, %d): got %v, want AllocationError", c.size, c.alignment, err)
			continue
		}
		if aerr.Size != c.size || aerr.Alignment != c.alignment {
			t.Errorf("AllocationError carries %d/%d, want %d/%d", aerr.Size, aerr.Alignment, c.size, c.alignment)
		}
	}
}

func TestFillStrategies(t *testing.T) {
	zero := make([]byte, 4096)

	// zero fill never touches the buffer
	buf := make([]byte, 4096)
	f := NewFiller(FillZero, 0)
	f.Init(buf)
	f.Refill(buf)
	if !bytes.Equal(buf, zero) {
		t.Error("zero fill wrote into the buffer")
	}

	// static fill writes once and leaves the contents alone afterwards
	f = NewFiller(FillStatic, 1)
	f.Init(buf)
	if bytes.Equal(buf, zero) {
		t.Fatal("static fill left the buffer zeroed")
	}
	snapshot := append([]byte(nil), buf...)
	f.Refill(buf)
	if !bytes.Equal(buf, snapshot) {
		t.Error("static fill changed the buffer on refill")
	}

	// random fill changes the contents on every refill
	f = NewFiller(FillRandom, 2)
	f.Init(buf)
	snapshot = append(snapshot[:0], buf...)
	f.Refill(buf)
	if bytes.Equal(buf, snapshot) {
		t.Error("random fill did not change the buffer on refill")
	}
}

func TestParseFill(t *testing.T) {
	for in, want := range map[string]Fill{"zero": FillZero, " Random ": FillRandom, "STATIC": FillStatic} {
		got, err := ParseFill(in)
		if err != nil || got != want {
			t.Errorf("ParseFill(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFill("ones"); err == nil {
		t.Error("ParseFill accepted an unknown strategy")
	}
}

func TestOpenForWriteCreates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target")
	f, err := OpenForWrite(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.Direct() || f.Mode() != ModeCached {
		t.Errorf("cached open reported mode %q", f.Mode())
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not created: %v", err)
	}
}

func TestOpenForWriteDirectIsLabeled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target")
	f, err := OpenForWrite(path, true)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// whichever way the platform went, the label has to say so
	switch {
	case f.Direct() && f.Mode() != ModeDirect:
		t.Errorf("direct handle labeled %q", f.Mode())
	case !f.Direct() && f.Mode() != ModeFallback:
		t.Errorf("fallback handle labeled %q", f.Mode())
	}
}

func TestOpenForWriteBadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "target")
	_, err := OpenForWrite(path, false)
	var ioerr *IOError
	if !errors.As(err, &ioerr) {
		t.Fatalf("got %v, want IOError", err)
	}
	if ioerr.Op != "open" || ioerr.Path != path {
		t.Errorf("IOError = %+v", ioerr)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("IOError does not unwrap to ErrNotExist: %v", err)
	}
}

func TestPoolBoundsOutstanding(t *testing.T) {
	p, err := NewPool(2, 4096, 512)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	a, _ := p.Get(ctx)
	b, _ := p.Get(ctx)
	if !IsAligned(a, 512) || !IsAligned(b, 512) {
		t.Error("pool buffers not aligned")
	}

	// a third Get must wait until a buffer comes back
	got := make(chan []byte)
	go func() {
		buf, _ := p.Get(ctx)
		got <- buf
	}()
	select {
	case <-got:
		t.Fatal("Get returned while the pool was exhausted")
	case <-time.After(50 * time.Millisecond):
	}
	p.Put(a)
	select {
	case buf := <-got:
		if len(buf) != 4096 {
			t.Errorf("buffer length %d", len(buf))
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not resume after Put")
	}
	if p.Peak() != 2 {
		t.Errorf("peak %d, want 2", p.Peak())
	}

	// Get gives up when its context ends
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, ok := p.Get(cctx); ok {
		t.Error("Get succeeded on an exhausted pool with a cancelled context")
	}
}
