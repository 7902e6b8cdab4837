package worker

// corrupt makes the next batch flip element elem of result iter.
func (k *CPUKernel) corrupt(iter, elem int) {
	switch g := k.impl.(type) {
	case *gemm[float32]:
		g.flipIter, g.flipElem = iter, elem
	case *gemm[float64]:
		g.flipIter, g.flipElem = iter, elem
	}
}
