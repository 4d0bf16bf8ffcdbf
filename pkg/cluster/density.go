package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/ryanburden/mercari-buddy/internal/disjointset"
	"github.com/ryanburden/mercari-buddy/internal/logger"
)

const (
	DefaultDimensions     = 10
	DefaultMinClusterSize = 5
)

// ErrDimensionMismatch is returned when vectors in one batch differ in length
var ErrDimensionMismatch = errors.New("vectors have different dimensions")

// Density projects vectors onto their leading principal components and runs DBSCAN over
// the projection. Zero fields select defaults.
type Density struct {
	// Dimensions is the size of the projected space
	Dimensions int

	// MinClusterSize is the smallest group reported as a cluster; smaller groups are noise
	MinClusterSize int

	// MinSamples is the neighbourhood size, self included, that makes a point a core
	// point. Defaults to MinClusterSize.
	MinSamples int

	// Epsilon is the neighbourhood radius. 0 derives it from the median distance of each
	// point to its MinSamples-th nearest neighbour.
	Epsilon float64

	Logger *logger.Logger
}

var _ Clusterer = (*Density)(nil)

func (d *Density) params() (dims, minSize, minSamples int) {
	dims, minSize, minSamples = d.Dimensions, d.MinClusterSize, d.MinSamples
	if dims <= 0 {
		dims = DefaultDimensions
	}
	if minSize <= 1 {
		minSize = DefaultMinClusterSize
	}
	if minSamples <= 0 {
		minSamples = minSize
	}
	return dims, minSize, minSamples
}

// Cluster labels vectors. Degenerate input (fewer points than MinClusterSize, or fewer
// than two distinct points) is all noise.
func (d *Density) Cluster(ctx context.Context, vectors [][]float32) ([]int, error) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}
	dims, minSize, minSamples := d.params()
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}

	width := len(vectors[0])
	for i, v := range vectors {
		if len(v) != width {
			return nil, fmt.Errorf("%w: vector %d has %d values, want %d", ErrDimensionMismatch, i, len(v), width)
		}
	}

	if n < minSize || width == 0 || distinct(vectors) < 2 {
		log.Debug("degenerate clustering input, labeling all as noise", "points", n)
		return AllNoise(n), nil
	}

	data := mat.NewDense(n, width, nil)
	for i, v := range vectors {
		row := data.RawRowView(i)
		for j, x := range v {
			row[j] = float64(x)
		}
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
	}

	points, err := project(data, dims)
	if err != nil {
		log.Warn("projection failed, labeling all as noise", "error", err)
		return AllNoise(n), nil
	}

	dist, err := pairwise(ctx, points)
	if err != nil {
		return nil, err
	}

	eps := d.Epsilon
	if eps <= 0 {
		eps = autoEpsilon(dist, minSamples)
	}

	labels := dbscan(dist, eps, minSamples, minSize)
	log.Debug("clustered corpus", "points", n, "epsilon", eps, "clusters", len(Sizes(labels)))
	return labels, nil
}

// project maps the rows of data onto their leading principal components
func project(data *mat.Dense, dims int) ([][]float64, error) {
	n, width := data.Dims()
	if width > dims {
		var pc stat.PC
		if ok := pc.PrincipalComponents(data, nil); !ok {
			return nil, errors.New("principal component analysis did not converge")
		}
		var vecs mat.Dense
		pc.VectorsTo(&vecs)
		_, k := vecs.Dims()
		k = min(k, dims)

		centered := mat.DenseCopyOf(data)
		col := make([]float64, n)
		for j := 0; j < width; j++ {
			mat.Col(col, j, centered)
			floats.AddConst(-stat.Mean(col, nil), col)
			centered.SetCol(j, col)
		}

		var projected mat.Dense
		projected.Mul(centered, vecs.Slice(0, width, 0, k))
		data = &projected
	}

	rows, _ := data.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = mat.Row(nil, i, data)
	}
	return out, nil
}

func pairwise(ctx context.Context, points [][]float64) ([][]float64, error) {
	n := len(points)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for j := i + 1; j < n; j++ {
			d := floats.Distance(points[i], points[j], 2)
			dist[i][j], dist[j][i] = d, d
		}
	}
	return dist, nil
}

// autoEpsilon is the median over all points of the distance to the (minSamples-1)-th
// nearest other point
func autoEpsilon(dist [][]float64, minSamples int) float64 {
	n := len(dist)
	k := min(max(minSamples-1, 1), n-1)

	kth := make([]float64, n)
	others := make([]float64, 0, n-1)
	for i := range dist {
		others = others[:0]
		for j, d := range dist[i] {
			if j != i {
				others = append(others, d)
			}
		}
		sort.Float64s(others)
		kth[i] = others[k-1]
	}
	sort.Float64s(kth)
	return stat.Quantile(0.5, stat.Empirical, kth, nil)
}

// dbscan links core points within eps of each other, attaches border points to their
// nearest core and drops groups smaller than minSize to noise. Labels are numbered in
// order of first appearance.
func dbscan(dist [][]float64, eps float64, minSamples, minSize int) []int {
	n := len(dist)
	core := make([]bool, n)
	for i := range dist {
		count := 0
		for _, d := range dist[i] {
			if d <= eps {
				count++
			}
		}
		core[i] = count >= minSamples
	}

	set := disjointset.New(n)
	member := make([]bool, n)
	for i := 0; i < n; i++ {
		if !core[i] {
			continue
		}
		member[i] = true
		for j := i + 1; j < n; j++ {
			if core[j] && dist[i][j] <= eps {
				set.Union(i, j)
			}
		}
	}
	for i := 0; i < n; i++ {
		if core[i] {
			continue
		}
		nearest := -1
		for j := 0; j < n; j++ {
			if core[j] && dist[i][j] <= eps && (nearest < 0 || dist[i][j] < dist[i][nearest]) {
				nearest = j
			}
		}
		if nearest >= 0 {
			set.Union(i, nearest)
			member[i] = true
		}
	}

	labels := AllNoise(n)
	next := 0
	for _, group := range set.Groups() {
		if len(group) < minSize || !member[group[0]] {
			continue
		}
		for _, i := range group {
			labels[i] = next
		}
		next++
	}
	return labels
}

func distinct(vectors [][]float32) int {
	seen := make(map[string]struct{})
	for _, v := range vectors {
		seen[fmt.Sprint(v)] = struct{}{}
		if len(seen) > 1 {
			return len(seen)
		}
	}
	return len(seen)
}
