package kernels

import (
	"errors"
	"strings"
	"testing"

	"github.com/gogpu/fluid/gpucore"
)

func load(t *testing.T, name string, wg [3]uint32) *Kernel {
	t.Helper()
	k, err := Load(name, wg)
	if err != nil {
		t.Fatalf("Load(%q) error = %v", name, err)
	}
	return k
}

func TestNames(t *testing.T) {
	want := []string{Advect, AddSource, Boundary, Diffuse, Divergence, Gradient, Pressure, Render}
	got := Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSourceAppliesWorkgroup(t *testing.T) {
	src, err := Source(AddSource, [3]uint32{16, 4, 1})
	if err != nil {
		t.Fatalf("Source() error = %v", err)
	}
	if !strings.Contains(src, "@workgroup_size(16, 4, 1)") {
		t.Error("Source() did not apply the workgroup shape")
	}
	if strings.Contains(src, "{{") {
		t.Error("Source() left template actions in the output")
	}
}

func TestSourceErrors(t *testing.T) {
	if _, err := Source("vorticity", [3]uint32{8, 8, 1}); !errors.Is(err, ErrUnknownKernel) {
		t.Errorf("Source(unknown) error = %v, want ErrUnknownKernel", err)
	}
	if _, err := Source(Diffuse, [3]uint32{8, 0, 1}); err == nil {
		t.Error("Source() with zero workgroup component succeeded")
	}
}

func TestComputeKernelSlots(t *testing.T) {
	tests := []struct {
		name    string
		inputs  int
		outputs int
	}{
		{AddSource, 4, 2},
		{Diffuse, 2, 2},
		{Advect, 4, 2},
		{Divergence, 2, 2},
		{Pressure, 0, 2},
		{Gradient, 2, 2},
		{Boundary, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := load(t, tt.name, [3]uint32{8, 8, 1})

			if len(k.Slots) == 0 || k.Slots[0].Binding != 0 || k.Slots[0].Kind != gpucore.SlotUniform {
				t.Fatalf("slot 0 = %+v, want uniform at binding 0", k.Slots)
			}
			if got := len(k.Inputs()); got != tt.inputs {
				t.Errorf("len(Inputs()) = %d, want %d", got, tt.inputs)
			}
			if got := len(k.Outputs()); got != tt.outputs {
				t.Errorf("len(Outputs()) = %d, want %d", got, tt.outputs)
			}
			for i, s := range k.Slots {
				if s.Binding != uint32(i) {
					t.Errorf("Slots[%d].Binding = %d, want %d", i, s.Binding, i)
				}
			}

			ep, ok := k.Compute()
			if !ok {
				t.Fatal("Compute() found no compute entry point")
			}
			if ep.Workgroup != [3]uint32{8, 8, 1} {
				t.Errorf("Workgroup = %v, want [8 8 1]", ep.Workgroup)
			}
			if len(k.SPIRV) == 0 || k.SPIRV[0] != 0x07230203 {
				t.Error("SPIRV does not start with the SPIR-V magic number")
			}
		})
	}
}

func TestRenderKernel(t *testing.T) {
	k := load(t, Render, [3]uint32{8, 8, 1})

	if _, ok := k.Compute(); ok {
		t.Error("render kernel reports a compute entry point")
	}
	vs, ok := k.EntryPoint(VertexEntry)
	if !ok || vs.Stage != gpucore.StageVertex {
		t.Errorf("EntryPoint(%q) = %+v, %v", VertexEntry, vs, ok)
	}
	fs, ok := k.EntryPoint(FragmentEntry)
	if !ok || fs.Stage != gpucore.StageFragment {
		t.Errorf("EntryPoint(%q) = %+v, %v", FragmentEntry, fs, ok)
	}
	if got := len(k.Inputs()); got != 5 {
		t.Errorf("len(Inputs()) = %d, want 5", got)
	}
	if got := len(k.Outputs()); got != 0 {
		t.Errorf("len(Outputs()) = %d, want 0", got)
	}
}

func TestCompileErrorNamesKernel(t *testing.T) {
	_, err := Compile("broken", "@compute @workgroup_size(1) fn main( {")
	if err == nil {
		t.Fatal("Compile() of invalid source succeeded")
	}
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("error %T is not *CompileError", err)
	}
	if ce.Kernel != "broken" {
		t.Errorf("Kernel = %q, want %q", ce.Kernel, "broken")
	}
	if !errors.Is(err, ErrCompile) {
		t.Error("errors.Is(err, ErrCompile) = false")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("Error() = %q, want kernel name", err.Error())
	}
}

func TestCompileRejectsOtherGroups(t *testing.T) {
	src := `
@group(1) @binding(0) var<storage, read_write> data: array<f32>;

@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = 1.0;
}
`
	_, err := Compile("group1", src)
	if err == nil {
		t.Fatal("Compile() accepted a binding outside group 0")
	}
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("error %T is not *CompileError", err)
	}
	if ce.Stage != "reflect" {
		t.Errorf("Stage = %q, want reflect", ce.Stage)
	}
}

func TestLoadCachesKernels(t *testing.T) {
	wg := [3]uint32{4, 2, 1}
	first := load(t, Boundary, wg)
	before := CacheStats()

	second := load(t, Boundary, wg)
	if second != first {
		t.Error("second Load returned a different kernel, want the cached one")
	}
	if after := CacheStats(); after.Hits != before.Hits+1 {
		t.Errorf("Hits = %d, want %d", after.Hits, before.Hits+1)
	}

	other := load(t, Boundary, [3]uint32{8, 8, 1})
	if other == first {
		t.Error("Load with another workgroup shape returned the cached kernel")
	}
}

func TestLoadDoesNotCacheFailures(t *testing.T) {
	before := CacheStats().Len
	if _, err := Load("nope", [3]uint32{8, 8, 1}); !errors.Is(err, ErrUnknownKernel) {
		t.Fatalf("Load(nope) = %v, want ErrUnknownKernel", err)
	}
	if got := CacheStats().Len; got != before {
		t.Errorf("cache length = %d after a failed Load, want %d", got, before)
	}
}
