package fluid

import (
	"errors"
	"testing"
)

func TestAllocateFieldZeroFilled(t *testing.T) {
	dev := newTestDevice(t)
	for _, n := range []uint32{1, 4, 9} {
		cfg := newTestConfig(t, n)
		f, err := AllocateField(dev, cfg, "zero", nil, nil)
		if err != nil {
			t.Fatalf("n=%d: AllocateField() error = %v", n, err)
		}
		x, y, err := f.ReadBack()
		if err != nil {
			t.Fatalf("n=%d: ReadBack() error = %v", n, err)
		}
		want := cfg.BufferElementCount()
		if len(x) != want || len(y) != want || f.Len() != want {
			t.Errorf("n=%d: channel lengths = %d, %d, want %d", n, len(x), len(y), want)
		}
		for i := range x {
			if x[i] != 0 || y[i] != 0 {
				t.Fatalf("n=%d: element %d = (%v, %v), want zero", n, i, x[i], y[i])
			}
		}
		f.Destroy()
	}
	if s := dev.Stats(); s.BuffersLive != 0 {
		t.Errorf("BuffersLive = %d after Destroy, want 0", s.BuffersLive)
	}
}

func TestAllocateFieldUploadsInitialData(t *testing.T) {
	dev := newTestDevice(t)
	cfg := newTestConfig(t, 4)
	initX := make([]float32, cfg.BufferElementCount())
	initY := make([]float32, cfg.BufferElementCount())
	for i := range initX {
		initX[i] = float32(i)
		initY[i] = -float32(i) / 3
	}

	f, err := AllocateField(dev, cfg, "init", initX, initY)
	if err != nil {
		t.Fatalf("AllocateField() error = %v", err)
	}
	x, y, err := f.ReadBack()
	if err != nil {
		t.Fatal(err)
	}
	for i := range initX {
		if x[i] != initX[i] || y[i] != initY[i] {
			t.Fatalf("element %d = (%v, %v), want (%v, %v)", i, x[i], y[i], initX[i], initY[i])
		}
	}
}

func TestAllocateFieldSizeMismatch(t *testing.T) {
	dev := newTestDevice(t)
	cfg := newTestConfig(t, 4)
	n := cfg.BufferElementCount()

	tests := []struct {
		name  string
		initX []float32
		initY []float32
	}{
		{"short x", make([]float32, n-1), nil},
		{"long y", nil, make([]float32, n+1)},
		{"unpadded", make([]float32, 16), make([]float32, 16)},
		{"empty non-nil", []float32{}, nil},
	}
	for _, tt := range tests {
		if _, err := AllocateField(dev, cfg, tt.name, tt.initX, tt.initY); !errors.Is(err, ErrSizeMismatch) {
			t.Errorf("%s: AllocateField() error = %v, want ErrSizeMismatch", tt.name, err)
		}
	}
	if s := dev.Stats(); s.BuffersCreated != 0 {
		t.Errorf("BuffersCreated = %d, want 0", s.BuffersCreated)
	}
}

func TestAllocateFieldInvalidConfig(t *testing.T) {
	dev := newTestDevice(t)
	if _, err := AllocateField(dev, &Config{}, "bad", nil, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("AllocateField() error = %v, want ErrInvalidConfig", err)
	}
}

func TestFieldGeometry(t *testing.T) {
	dev := newTestDevice(t)
	cfg := newTestConfig(t, 4)
	f, err := AllocateField(dev, cfg, "geo", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if f.Rows() != 6 || f.Cols() != 6 {
		t.Errorf("Rows, Cols = %d, %d, want 6, 6", f.Rows(), f.Cols())
	}
	tests := []struct {
		row, col uint32
		want     int
	}{
		{0, 0, 0},
		{0, 5, 5},
		{1, 1, 7},
		{3, 3, 21},
		{5, 5, 35},
	}
	for _, tt := range tests {
		if got := f.Index(tt.row, tt.col); got != tt.want {
			t.Errorf("Index(%d, %d) = %d, want %d", tt.row, tt.col, got, tt.want)
		}
	}
	if b := f.Buffers(); len(b) != 2 || b[0] != f.X().Buffer() || b[1] != f.Y().Buffer() {
		t.Errorf("Buffers() = %v, want [x y]", b)
	}
	if b := f.Y().Buffers(); len(b) != 1 || b[0] != f.Y().Buffer() {
		t.Errorf("Y().Buffers() = %v, want [y]", b)
	}
}

func TestFieldWriteChannel(t *testing.T) {
	dev := newTestDevice(t)
	cfg := newTestConfig(t, 2)
	f, err := AllocateField(dev, cfg, "write", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	values := spike(cfg, 1, 2, 7)
	if err := f.WriteChannel(1, values); err != nil {
		t.Fatalf("WriteChannel(1) error = %v", err)
	}
	x, y, err := f.ReadBack()
	if err != nil {
		t.Fatal(err)
	}
	k := f.Index(1, 2)
	if x[k] != 0 || y[k] != 7 {
		t.Errorf("cell = (%v, %v), want (0, 7)", x[k], y[k])
	}

	if err := f.WriteChannel(2, values); err == nil {
		t.Error("WriteChannel(2) error = nil")
	}
	if err := f.X().Write(values[:3]); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("Write(short) error = %v, want ErrSizeMismatch", err)
	}
}
