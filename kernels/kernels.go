package kernels

import (
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/gogpu/fluid/internal/cache"
)

// Built-in kernel names.
const (
	AddSource  = "addsource"
	Diffuse    = "diffuse"
	Advect     = "advect"
	Divergence = "divergence"
	Pressure   = "pressure"
	Gradient   = "gradient"
	Boundary   = "boundary"
	Render     = "render"
)

// Entry point names.
const (
	ComputeEntry  = "main"
	VertexEntry   = "display_vs"
	FragmentEntry = "display_fs"
)

// ErrUnknownKernel is returned when a name does not match an embedded kernel.
var ErrUnknownKernel = errors.New("kernels: unknown kernel")

//go:embed shaders/*.wgsl
var shaderFS embed.FS

var (
	templatesOnce sync.Once
	templates     map[string]*template.Template
	templatesErr  error
)

func loadTemplates() {
	templates = make(map[string]*template.Template)
	entries, err := shaderFS.ReadDir("shaders")
	if err != nil {
		templatesErr = err
		return
	}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".wgsl")
		data, err := shaderFS.ReadFile("shaders/" + e.Name())
		if err != nil {
			templatesErr = err
			return
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(string(data))
		if err != nil {
			templatesErr = fmt.Errorf("kernels: template %s: %w", name, err)
			return
		}
		templates[name] = tmpl
	}
}

// Names returns the embedded kernel names in sorted order.
func Names() []string {
	templatesOnce.Do(loadTemplates)
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns the WGSL source of the named kernel with the workgroup
// shape wg applied. Every component of wg must be non-zero.
func Source(name string, wg [3]uint32) (string, error) {
	templatesOnce.Do(loadTemplates)
	if templatesErr != nil {
		return "", templatesErr
	}
	tmpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKernel, name)
	}
	if wg[0] == 0 || wg[1] == 0 || wg[2] == 0 {
		return "", fmt.Errorf("kernels: %s: workgroup size %v has a zero component", name, wg)
	}

	var sb strings.Builder
	err := tmpl.Execute(&sb, struct{ X, Y, Z uint32 }{wg[0], wg[1], wg[2]})
	if err != nil {
		return "", fmt.Errorf("kernels: %s: %w", name, err)
	}
	return sb.String(), nil
}

type kernelKey struct {
	name string
	wg   [3]uint32
}

// compiled holds every kernel Load has built. Failed compilations are not
// stored.
var compiled = cache.New[kernelKey, *Kernel](64)

// Load returns the named kernel compiled for workgroup shape wg. Results
// are cached per name and shape; callers must treat the returned Kernel as
// read-only.
func Load(name string, wg [3]uint32) (*Kernel, error) {
	return compiled.GetOrCreate(kernelKey{name, wg}, func() (*Kernel, error) {
		src, err := Source(name, wg)
		if err != nil {
			return nil, err
		}
		return Compile(name, src)
	})
}

// CacheStats reports hits and misses of the compiled kernel cache.
func CacheStats() cache.Stats {
	return compiled.Stats()
}
