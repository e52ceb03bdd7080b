package cluster

import "math"

// kdTree is a static 2D index over projected coordinates. Items are stored in
// two flat slices sorted in place so that every node's median sits at the
// middle of its range.
type kdTree struct {
	nodeSize int
	ids      []int
	coords   []float64
}

func newKDTree(n, nodeSize int, at func(i int) (x, y float64)) *kdTree {
	t := &kdTree{
		nodeSize: nodeSize,
		ids:      make([]int, n),
		coords:   make([]float64, 2*n),
	}
	for i := 0; i < n; i++ {
		x, y := at(i)
		t.ids[i] = i
		t.coords[2*i] = x
		t.coords[2*i+1] = y
	}
	t.sort(0, n-1, 0)
	return t
}

func (t *kdTree) sort(left, right, axis int) {
	if right-left <= t.nodeSize {
		return
	}
	m := (left + right) >> 1
	t.selectKth(m, left, right, axis)
	t.sort(left, m-1, 1-axis)
	t.sort(m+1, right, 1-axis)
}

// selectKth partially sorts [left, right] along axis so that item k is in its
// final sorted position with smaller items before it and larger after.
func (t *kdTree) selectKth(k, left, right, axis int) {
	for right > left {
		pivot := t.coords[2*k+axis]
		i, j := left, right

		t.swap(left, k)
		if t.coords[2*right+axis] > pivot {
			t.swap(left, right)
		}
		for i < j {
			t.swap(i, j)
			i++
			j--
			for t.coords[2*i+axis] < pivot {
				i++
			}
			for t.coords[2*j+axis] > pivot {
				j--
			}
		}

		if t.coords[2*left+axis] == pivot {
			t.swap(left, j)
		} else {
			j++
			t.swap(j, right)
		}

		if j <= k {
			left = j + 1
		}
		if k <= j {
			right = j - 1
		}
	}
}

func (t *kdTree) swap(i, j int) {
	t.ids[i], t.ids[j] = t.ids[j], t.ids[i]
	t.coords[2*i], t.coords[2*j] = t.coords[2*j], t.coords[2*i]
	t.coords[2*i+1], t.coords[2*j+1] = t.coords[2*j+1], t.coords[2*i+1]
}

// rangeQuery returns the ids of items inside the axis-aligned box.
func (t *kdTree) rangeQuery(minX, minY, maxX, maxY float64) []int {
	var result []int
	stack := []int{0, len(t.ids) - 1, 0}
	for len(stack) > 0 {
		axis := stack[len(stack)-1]
		right := stack[len(stack)-2]
		left := stack[len(stack)-3]
		stack = stack[:len(stack)-3]

		if right-left <= t.nodeSize {
			for i := left; i <= right; i++ {
				x, y := t.coords[2*i], t.coords[2*i+1]
				if x >= minX && x <= maxX && y >= minY && y <= maxY {
					result = append(result, t.ids[i])
				}
			}
			continue
		}

		m := (left + right) >> 1
		x, y := t.coords[2*m], t.coords[2*m+1]
		if x >= minX && x <= maxX && y >= minY && y <= maxY {
			result = append(result, t.ids[m])
		}
		if (axis == 0 && minX <= x) || (axis == 1 && minY <= y) {
			stack = append(stack, left, m-1, 1-axis)
		}
		if (axis == 0 && maxX >= x) || (axis == 1 && maxY >= y) {
			stack = append(stack, m+1, right, 1-axis)
		}
	}
	return result
}

// within returns the ids of items at most r away from (qx, qy).
func (t *kdTree) within(qx, qy, r float64) []int {
	var result []int
	r2 := r * r
	stack := []int{0, len(t.ids) - 1, 0}
	for len(stack) > 0 {
		axis := stack[len(stack)-1]
		right := stack[len(stack)-2]
		left := stack[len(stack)-3]
		stack = stack[:len(stack)-3]

		if right-left <= t.nodeSize {
			for i := left; i <= right; i++ {
				if sqDist(t.coords[2*i], t.coords[2*i+1], qx, qy) <= r2 {
					result = append(result, t.ids[i])
				}
			}
			continue
		}

		m := (left + right) >> 1
		x, y := t.coords[2*m], t.coords[2*m+1]
		if sqDist(x, y, qx, qy) <= r2 {
			result = append(result, t.ids[m])
		}
		if (axis == 0 && qx-r <= x) || (axis == 1 && qy-r <= y) {
			stack = append(stack, left, m-1, 1-axis)
		}
		if (axis == 0 && qx+r >= x) || (axis == 1 && qy+r >= y) {
			stack = append(stack, m+1, right, 1-axis)
		}
	}
	return result
}

func sqDist(ax, ay, bx, by float64) float64 {
	dx, dy := ax-bx, ay-by
	return dx*dx + dy*dy
}

// lngX projects a longitude onto [0, 1].
func lngX(lng float64) float64 {
	return lng/360 + 0.5
}

// latY projects a latitude onto [0, 1] in spherical mercator, clamped at the poles.
func latY(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	switch {
	case y < 0:
		return 0
	case y > 1:
		return 1
	}
	return y
}

func xLng(x float64) float64 {
	return (x - 0.5) * 360
}

func yLat(y float64) float64 {
	y2 := (180 - y*360) * math.Pi / 180
	return 360*math.Atan(math.Exp(y2))/math.Pi - 90
}
