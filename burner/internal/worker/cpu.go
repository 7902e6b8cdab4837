package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

const (
	// maxCPUIterations caps the batch so a cpu run still reports often.
	maxCPUIterations = 16

	// relEpsilon is the relative deviation at which an element counts as
	// faulty.
	relEpsilon = 1e-3
)

// CPUConfig sizes a CPUKernel.
type CPUConfig struct {
	// Device is the virtual device index; it must be below Devices.
	Device  int
	Devices int

	// MatrixSize is the edge length of the square operands.
	MatrixSize int

	// Double selects float64 instead of float32.
	Double bool

	// MemoryBytes bounds the result buffers; it sets iterations per batch.
	MemoryBytes uint64

	// Seed makes the operands reproducible.
	Seed uint64
}

// CPUKernel multiplies two random matrices repeatedly on the host CPU.
type CPUKernel struct {
	cfg  CPUConfig
	impl interface {
		batch(ctx context.Context) (int, int, error)
	}
}

// NewCPUKernel returns an uninitialised cpu kernel.
func NewCPUKernel(cfg CPUConfig) *CPUKernel {
	return &CPUKernel{cfg: cfg}
}

// Init allocates the operands and computes the reference product.
func (k *CPUKernel) Init(context.Context) error {
	c := k.cfg
	if c.Device < 0 || c.Device >= c.Devices {
		return fmt.Errorf("no cpu device %d (have %d)", c.Device, c.Devices)
	}
	if c.MatrixSize <= 0 {
		return errors.New("matrix size must be positive")
	}

	elem := uint64(4)
	if c.Double {
		elem = 8
	}
	resultSize := uint64(c.MatrixSize*c.MatrixSize) * elem
	if c.MemoryBytes < 3*resultSize {
		return fmt.Errorf("%d bytes is not enough for a %dx%d problem", c.MemoryBytes, c.MatrixSize, c.MatrixSize)
	}
	iters := int(min((c.MemoryBytes-2*resultSize)/resultSize, maxCPUIterations))

	rng := rand.New(rand.NewPCG(c.Seed, uint64(c.Device)))
	if c.Double {
		k.impl = newGemm[float64](c.MatrixSize, iters, rng)
	} else {
		k.impl = newGemm[float32](c.MatrixSize, iters, rng)
	}
	return nil
}

// Batch computes the product Iterations times and compares every result with
// the reference.
func (k *CPUKernel) Batch(ctx context.Context) (int, int, error) {
	if k.impl == nil {
		return 0, 0, errors.New("kernel not initialised")
	}
	return k.impl.batch(ctx)
}

// Close drops the buffers.
func (k *CPUKernel) Close() error {
	k.impl = nil
	return nil
}

// OpsPerIteration is the flop count of one iteration.
func (k *CPUKernel) OpsPerIteration() float64 {
	n := float64(k.cfg.MatrixSize)
	return 2 * n * n * n
}

type gemm[T float32 | float64] struct {
	n       int
	a, b    []T
	ref     []T
	results [][]T
	// flipIter >= 0 corrupts flipElem of that result in the next batch.
	flipIter, flipElem int
}

func newGemm[T float32 | float64](n, iters int, rng *rand.Rand) *gemm[T] {
	g := &gemm[T]{
		n:        n,
		a:        make([]T, n*n),
		b:        make([]T, n*n),
		ref:      make([]T, n*n),
		results:  make([][]T, iters),
		flipIter: -1,
	}
	for i := range g.a {
		g.a[i] = T(rng.Float64())
		g.b[i] = T(rng.Float64())
	}
	for i := range g.results {
		g.results[i] = make([]T, n*n)
	}
	g.multiply(g.ref)
	return g
}

func (g *gemm[T]) multiply(c []T) {
	n := g.n
	clear(c)
	for i := 0; i < n; i++ {
		row := c[i*n : (i+1)*n]
		for k := 0; k < n; k++ {
			aik := g.a[i*n+k]
			bk := g.b[k*n : (k+1)*n]
			for j := range row {
				row[j] += aik * bk[j]
			}
		}
	}
}

func (g *gemm[T]) batch(ctx context.Context) (int, int, error) {
	done := 0
	for i, c := range g.results {
		if ctx.Err() != nil {
			break
		}
		g.multiply(c)
		if i == g.flipIter {
			c[g.flipElem] += 1
			g.flipIter = -1
		}
		done++
	}
	faults := 0
	for _, c := range g.results[:done] {
		faults += g.compare(c)
	}
	return done, faults, nil
}

func (g *gemm[T]) compare(c []T) int {
	faults := 0
	for i, want := range g.ref {
		got := c[i]
		if math.IsNaN(float64(got)) {
			faults++
			continue
		}
		diff := math.Abs(float64(got - want))
		if diff > relEpsilon*math.Abs(float64(want)) {
			faults++
		}
	}
	return faults
}
