package kernels

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/fluid/gpucore"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
)

// ErrCompile is matched by every *CompileError.
var ErrCompile = errors.New("kernels: compile failed")

// CompileError reports a kernel that failed to compile or reflect.
type CompileError struct {
	// Kernel is the kernel name.
	Kernel string
	// Stage is the compilation step that failed: "parse", "lower",
	// "validate", "spirv" or "reflect".
	Stage string
	Err   error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("kernels: %s: %s: %v", e.Kernel, e.Stage, e.Err)
}

// Unwrap returns the underlying compiler error.
func (e *CompileError) Unwrap() error { return e.Err }

// Is reports whether target is ErrCompile.
func (e *CompileError) Is(target error) bool { return target == ErrCompile }

// EntryPoint describes one entry point of a kernel.
type EntryPoint struct {
	Name  string
	Stage gpucore.ShaderStages
	// Workgroup is the declared workgroup size (compute only).
	Workgroup [3]uint32
}

// Kernel is a compiled kernel together with its reflected interface.
type Kernel struct {
	Name   string
	Source string
	SPIRV  []uint32

	// Slots are the bind group 0 resources sorted by binding.
	Slots []gpucore.BindingSlot

	EntryPoints []EntryPoint
}

// EntryPoint returns the entry point with the given name.
func (k *Kernel) EntryPoint(name string) (EntryPoint, bool) {
	for _, ep := range k.EntryPoints {
		if ep.Name == name {
			return ep, true
		}
	}
	return EntryPoint{}, false
}

// Compute returns the compute entry point named ComputeEntry.
func (k *Kernel) Compute() (EntryPoint, bool) {
	ep, ok := k.EntryPoint(ComputeEntry)
	if !ok || ep.Stage != gpucore.StageCompute {
		return EntryPoint{}, false
	}
	return ep, true
}

// Uniforms returns the uniform slots.
func (k *Kernel) Uniforms() []gpucore.BindingSlot { return k.slots(gpucore.SlotUniform) }

// Inputs returns the read-only storage slots.
func (k *Kernel) Inputs() []gpucore.BindingSlot { return k.slots(gpucore.SlotReadOnlyStorage) }

// Outputs returns the read-write storage slots.
func (k *Kernel) Outputs() []gpucore.BindingSlot { return k.slots(gpucore.SlotStorage) }

func (k *Kernel) slots(kind gpucore.SlotKind) []gpucore.BindingSlot {
	var out []gpucore.BindingSlot
	for _, s := range k.Slots {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Compile compiles WGSL source and reflects its interface. name is used
// only to label the kernel and its errors.
func Compile(name, source string) (*Kernel, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, &CompileError{Kernel: name, Stage: "parse", Err: err}
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, &CompileError{Kernel: name, Stage: "lower", Err: err}
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return nil, &CompileError{Kernel: name, Stage: "validate", Err: err}
	}
	if len(verrs) > 0 {
		return nil, &CompileError{Kernel: name, Stage: "validate", Err: verrs[0]}
	}

	slots, err := reflectSlots(module)
	if err != nil {
		return nil, &CompileError{Kernel: name, Stage: "reflect", Err: err}
	}

	code, err := naga.GenerateSPIRV(module, spirv.Options{Version: spirv.Version1_3})
	if err != nil {
		return nil, &CompileError{Kernel: name, Stage: "spirv", Err: err}
	}

	return &Kernel{
		Name:        name,
		Source:      source,
		SPIRV:       spirvWords(code),
		Slots:       slots,
		EntryPoints: reflectEntryPoints(module),
	}, nil
}

func reflectSlots(m *ir.Module) ([]gpucore.BindingSlot, error) {
	var slots []gpucore.BindingSlot
	seen := make(map[uint32]string)
	for _, gv := range m.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		if gv.Binding.Group != 0 {
			return nil, fmt.Errorf("%s: bind group %d is not supported", gv.Name, gv.Binding.Group)
		}
		var kind gpucore.SlotKind
		switch gv.Space {
		case ir.SpaceUniform:
			kind = gpucore.SlotUniform
		case ir.SpaceStorage:
			if gv.Access == ir.StorageRead {
				kind = gpucore.SlotReadOnlyStorage
			} else {
				kind = gpucore.SlotStorage
			}
		default:
			return nil, fmt.Errorf("%s: only uniform and storage buffers may be bound", gv.Name)
		}
		if prev, dup := seen[gv.Binding.Binding]; dup {
			return nil, fmt.Errorf("%s and %s share binding %d", prev, gv.Name, gv.Binding.Binding)
		}
		seen[gv.Binding.Binding] = gv.Name
		slots = append(slots, gpucore.BindingSlot{
			Binding: gv.Binding.Binding,
			Kind:    kind,
			Name:    gv.Name,
		})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Binding < slots[j].Binding })
	return slots, nil
}

func reflectEntryPoints(m *ir.Module) []EntryPoint {
	eps := make([]EntryPoint, 0, len(m.EntryPoints))
	for _, ep := range m.EntryPoints {
		var stage gpucore.ShaderStages
		switch ep.Stage {
		case ir.StageVertex:
			stage = gpucore.StageVertex
		case ir.StageFragment:
			stage = gpucore.StageFragment
		case ir.StageCompute:
			stage = gpucore.StageCompute
		default:
			continue
		}
		eps = append(eps, EntryPoint{Name: ep.Name, Stage: stage, Workgroup: ep.Workgroup})
	}
	return eps
}

// spirvWords converts a little-endian SPIR-V byte stream into words.
func spirvWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}
