package calculator

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	errUnbounded     = errors.New("simplex: problem is unbounded")
	errIterationCap  = errors.New("simplex: iteration limit reached")
	errSingularBasis = errors.New("simplex: singular basis")
)

const (
	pivotTol      = 1e-9
	refactorEvery = 64
	blandAfter    = 50 // 连续退化步数超过该值后改用 Bland 规则
)

type colEntry struct {
	row int
	val float64
}

// boundedLP max objᵀx，s.t. A·x + t = rhs，0 ≤ x ≤ upper，t ≥ 0。
// A 按列稀疏存储；行数即阶段数，键的上下界不占行。
type boundedLP struct {
	rows  int
	cols  [][]colEntry
	obj   []float64
	upper []float64
	rhs   []float64 // 必须非负：x = 0 时松弛基可行
}

// boundedSimplex 上界变量的修正单纯形：基矩阵只有 rows×rows，
// 每步定价只扫描非零元，规模随键数近似线性增长。
type boundedSimplex struct {
	lp      *boundedLP
	n       int // 结构变量数；n..n+rows-1 为松弛变量
	basis   []int
	pos     []int // 变量 -> 基所在行，非基为 -1
	atUpper []bool
	xB      []float64
	binv    *mat.Dense
}

func (lp *boundedLP) solve() ([]float64, error) {
	m, n := lp.rows, len(lp.cols)
	if m == 0 {
		// 无约束行：收益为正的段全部取上界
		return append([]float64(nil), lp.upper...), nil
	}
	s := &boundedSimplex{
		lp:      lp,
		n:       n,
		basis:   make([]int, m),
		pos:     make([]int, n+m),
		atUpper: make([]bool, n+m),
		xB:      append([]float64(nil), lp.rhs...),
		binv:    mat.NewDense(m, m, nil),
	}
	for j := range s.pos {
		s.pos[j] = -1
	}
	for i := 0; i < m; i++ {
		s.basis[i] = n + i
		s.pos[n+i] = i
		s.binv.Set(i, i, 1)
	}

	cb := mat.NewVecDense(m, nil)
	dual := mat.NewVecDense(m, nil)
	col := mat.NewVecDense(m, nil)
	alpha := mat.NewVecDense(m, nil)

	degenerate := 0
	maxIter := 20*(n+m) + 100
	for iter := 0; iter < maxIter; iter++ {
		if iter > 0 && iter%refactorEvery == 0 {
			if err := s.refactor(); err != nil {
				return nil, err
			}
		}

		for i, b := range s.basis {
			cb.SetVec(i, s.cost(b))
		}
		dual.MulVec(s.binv.T(), cb)

		q := s.price(dual, degenerate > blandAfter)
		if q < 0 {
			return s.primal(), nil
		}

		s.column(q, col)
		alpha.MulVec(s.binv, col)

		sigma := 1.0
		if s.atUpper[q] {
			sigma = -1
		}
		theta, leave, leaveToUpper := s.ratio(q, sigma, alpha, degenerate > blandAfter)
		if math.IsInf(theta, 1) {
			return nil, errUnbounded
		}
		if theta < pivotTol {
			degenerate++
		} else {
			degenerate = 0
		}

		for i := range s.xB {
			s.xB[i] -= theta * sigma * alpha.AtVec(i)
		}
		if leave < 0 {
			s.atUpper[q] = !s.atUpper[q]
			continue
		}

		enter := theta
		if s.atUpper[q] {
			enter = s.bound(q) - theta
		}
		out := s.basis[leave]
		s.pos[out] = -1
		s.atUpper[out] = leaveToUpper
		s.basis[leave] = q
		s.pos[q] = leave
		s.atUpper[q] = false
		s.xB[leave] = enter
		s.pivot(leave, alpha)
	}
	return nil, errIterationCap
}

func (s *boundedSimplex) cost(j int) float64 {
	if j < s.n {
		return s.lp.obj[j]
	}
	return 0
}

func (s *boundedSimplex) bound(j int) float64 {
	if j < s.n {
		return s.lp.upper[j]
	}
	return math.Inf(1)
}

func (s *boundedSimplex) column(j int, dst *mat.VecDense) {
	dst.Zero()
	if j >= s.n {
		dst.SetVec(j-s.n, 1)
		return
	}
	for _, e := range s.lp.cols[j] {
		dst.SetVec(e.row, e.val)
	}
}

func (s *boundedSimplex) reducedCost(j int, dual *mat.VecDense) float64 {
	if j >= s.n {
		return -dual.AtVec(j - s.n)
	}
	d := s.lp.obj[j]
	for _, e := range s.lp.cols[j] {
		d -= dual.AtVec(e.row) * e.val
	}
	return d
}

// price 选入基变量：Dantzig 最大改进；bland 为 true 时取最小下标
func (s *boundedSimplex) price(dual *mat.VecDense, bland bool) int {
	q, best := -1, pivotTol
	for j := range s.pos {
		if s.pos[j] >= 0 {
			continue
		}
		d := s.reducedCost(j, dual)
		if s.atUpper[j] {
			d = -d
		}
		if d <= pivotTol {
			continue
		}
		if bland {
			return j
		}
		if d > best {
			q, best = j, d
		}
	}
	return q
}

// ratio 比值检验；返回步长、出基行（-1 表示入基变量直接翻转到另一界）
func (s *boundedSimplex) ratio(q int, sigma float64, alpha *mat.VecDense, bland bool) (float64, int, bool) {
	theta := s.bound(q)
	leave, toUpper := -1, false
	for i, b := range s.basis {
		delta := sigma * alpha.AtVec(i)
		var limit float64
		var upper bool
		switch {
		case delta > pivotTol:
			limit = math.Max(s.xB[i], 0) / delta
		case delta < -pivotTol:
			ub := s.bound(b)
			if math.IsInf(ub, 1) {
				continue
			}
			limit = math.Max(ub-s.xB[i], 0) / -delta
			upper = true
		default:
			continue
		}
		tie := bland && leave >= 0 && limit <= theta+pivotTol && b < s.basis[leave]
		if limit < theta-pivotTol || tie || (leave < 0 && limit <= theta) {
			theta, leave, toUpper = limit, i, upper
		}
	}
	return theta, leave, toUpper
}

// pivot 以 alpha[r] 为主元更新基逆
func (s *boundedSimplex) pivot(r int, alpha *mat.VecDense) {
	m := len(s.basis)
	pr := alpha.AtVec(r)
	row := s.binv.RawRowView(r)
	for c := 0; c < m; c++ {
		row[c] /= pr
	}
	for i := 0; i < m; i++ {
		f := alpha.AtVec(i)
		if i == r || f == 0 {
			continue
		}
		other := s.binv.RawRowView(i)
		for c := 0; c < m; c++ {
			other[c] -= f * row[c]
		}
	}
}

// refactor 重新求基逆并按当前非基取值重算基变量，抑制累计误差
func (s *boundedSimplex) refactor() error {
	m := len(s.basis)
	B := mat.NewDense(m, m, nil)
	col := mat.NewVecDense(m, nil)
	for i, b := range s.basis {
		s.column(b, col)
		B.SetCol(i, col.RawVector().Data)
	}
	var inv mat.Dense
	if err := inv.Inverse(B); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return errSingularBasis
		}
	}
	s.binv = &inv

	r := mat.NewVecDense(m, append([]float64(nil), s.lp.rhs...))
	for j := 0; j < s.n; j++ {
		if s.pos[j] >= 0 || !s.atUpper[j] {
			continue
		}
		for _, e := range s.lp.cols[j] {
			r.SetVec(e.row, r.AtVec(e.row)-e.val*s.lp.upper[j])
		}
	}
	var xB mat.VecDense
	xB.MulVec(s.binv, r)
	copy(s.xB, xB.RawVector().Data)
	return nil
}

func (s *boundedSimplex) primal() []float64 {
	x := make([]float64, s.n)
	for j := range x {
		switch {
		case s.pos[j] >= 0:
			x[j] = math.Min(math.Max(s.xB[s.pos[j]], 0), s.lp.upper[j])
		case s.atUpper[j]:
			x[j] = s.lp.upper[j]
		}
	}
	return x
}
