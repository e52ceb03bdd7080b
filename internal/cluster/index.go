// Package cluster builds a hierarchical, zoom-aware clustering index over
// facility points and answers viewport queries against it.
//
// The index holds one static KD tree per zoom level. Level MaxZoom+1 contains
// the raw points; each lower level is produced by greedily merging the items of
// the level above that fall within the pixel radius at that zoom. Coordinates
// are projected to unit spherical mercator, so a radius of R pixels at zoom z
// spans R / (Extent * 2^z) units.
package cluster

import (
	"errors"
	"fmt"
	"math"

	"github.com/couchcryptid/emissions-equity-map/internal/domain"
)

// ErrClusterNotFound is returned for ids that do not name a cluster in the index.
var ErrClusterNotFound = errors.New("cluster not found")

// maxSupportedZoom keeps the origin zoom encodable in the low 5 bits of a cluster id.
const maxSupportedZoom = 30

// Options configures clustering.
type Options struct {
	// Radius is the merge distance in pixels at tile Extent.
	Radius float64
	// Extent is the tile size the radius is measured against.
	Extent float64
	// MinZoom is the lowest zoom with its own level.
	MinZoom int
	// MaxZoom is the highest zoom that clusters. Queries above it return raw points.
	MaxZoom int
	// MinPoints is the smallest group, seed included, that forms a cluster.
	MinPoints int
	// NodeSize is the KD tree leaf size.
	NodeSize int
}

// DefaultOptions returns the settings used by the map.
func DefaultOptions() Options {
	return Options{
		Radius:    50,
		Extent:    512,
		MinZoom:   0,
		MaxZoom:   14,
		MinPoints: 2,
		NodeSize:  64,
	}
}

// Validate reports option combinations the index cannot represent.
func (o Options) Validate() error {
	switch {
	case o.Radius <= 0:
		return fmt.Errorf("cluster radius must be positive, got %v", o.Radius)
	case o.Extent <= 0:
		return fmt.Errorf("cluster extent must be positive, got %v", o.Extent)
	case o.MinZoom < 0 || o.MinZoom > o.MaxZoom:
		return fmt.Errorf("cluster zoom range [%d, %d] is invalid", o.MinZoom, o.MaxZoom)
	case o.MaxZoom > maxSupportedZoom:
		return fmt.Errorf("cluster max zoom %d exceeds %d", o.MaxZoom, maxSupportedZoom)
	case o.MinPoints < 2:
		return fmt.Errorf("cluster min points must be at least 2, got %d", o.MinPoints)
	case o.NodeSize < 1:
		return fmt.Errorf("cluster node size must be positive, got %d", o.NodeSize)
	}
	return nil
}

// Feature is one item of a query result: either a single facility or a cluster.
type Feature struct {
	Cluster       bool                  `json:"cluster"`
	ClusterID     int                   `json:"cluster_id,omitempty"`
	Count         int                   `json:"count"`
	Lat           float64               `json:"lat"`
	Lng           float64               `json:"lng"`
	ExpansionZoom int                   `json:"expansion_zoom,omitempty"`
	Emissions     float64               `json:"emissions"`
	Risks         domain.RiskCounts     `json:"risks"`
	Point         *domain.FacilityPoint `json:"point,omitempty"`
}

// node is an item at one zoom level.
type node struct {
	x, y      float64
	zoom      int // lowest zoom already processed; unvisited is math.MaxInt
	index     int // point index for leaves, origin index for clusters
	id        int // cluster id, or -1 for leaves
	parentID  int // cluster that absorbed this item at the next lower zoom, or -1
	numPoints int
	emissions float64
	risks     domain.RiskCounts
}

func (n node) isCluster() bool { return n.id >= 0 }

// carry copies a node onto the next lower level.
func (n node) carry() node {
	n.zoom = math.MaxInt
	n.parentID = -1
	return n
}

type level struct {
	nodes []node
	tree  *kdTree
}

func newLevel(nodes []node, nodeSize int) *level {
	return &level{
		nodes: nodes,
		tree: newKDTree(len(nodes), nodeSize, func(i int) (float64, float64) {
			return nodes[i].x, nodes[i].y
		}),
	}
}

// Index is an immutable clustering hierarchy. It is safe for concurrent reads.
type Index struct {
	opts   Options
	points []domain.FacilityPoint
	levels []*level // indexed by zoom, MinZoom..MaxZoom+1
}

// New builds the full hierarchy over points. Options are validated and invalid
// ones replaced by DefaultOptions.
func New(points []domain.FacilityPoint, opts Options) *Index {
	if opts.Validate() != nil {
		opts = DefaultOptions()
	}

	ix := &Index{
		opts:   opts,
		points: points,
		levels: make([]*level, opts.MaxZoom+2),
	}

	leaves := make([]node, 0, len(points))
	for i, p := range points {
		var risks domain.RiskCounts
		risks[p.Risk]++
		leaves = append(leaves, node{
			x:         lngX(p.Lng),
			y:         latY(p.Lat),
			zoom:      math.MaxInt,
			index:     i,
			id:        -1,
			parentID:  -1,
			numPoints: 1,
			emissions: p.Emissions,
			risks:     risks,
		})
	}
	ix.levels[opts.MaxZoom+1] = newLevel(leaves, opts.NodeSize)

	for z := opts.MaxZoom; z >= opts.MinZoom; z-- {
		ix.levels[z] = newLevel(ix.cluster(ix.levels[z+1], z), opts.NodeSize)
	}
	return ix
}

// Options returns the settings the index was built with.
func (ix *Index) Options() Options { return ix.opts }

// Len returns the number of indexed points.
func (ix *Index) Len() int { return len(ix.points) }

// cluster merges the items of prev into the items of zoom.
func (ix *Index) cluster(prev *level, zoom int) []node {
	r := ix.opts.Radius / (ix.opts.Extent * math.Pow(2, float64(zoom)))
	next := make([]node, 0, len(prev.nodes))

	for i := range prev.nodes {
		p := &prev.nodes[i]
		if p.zoom <= zoom {
			continue
		}
		p.zoom = zoom

		neighbors := prev.tree.within(p.x, p.y, r)

		numPoints := p.numPoints
		for _, nb := range neighbors {
			if prev.nodes[nb].zoom > zoom {
				numPoints += prev.nodes[nb].numPoints
			}
		}

		if numPoints > p.numPoints && numPoints >= ix.opts.MinPoints {
			id := ix.encodeID(i, zoom)
			wx := p.x * float64(p.numPoints)
			wy := p.y * float64(p.numPoints)
			emissions := p.emissions
			risks := p.risks

			for _, nb := range neighbors {
				b := &prev.nodes[nb]
				if b.zoom <= zoom {
					continue
				}
				b.zoom = zoom
				b.parentID = id
				wx += b.x * float64(b.numPoints)
				wy += b.y * float64(b.numPoints)
				emissions += b.emissions
				risks = risks.Add(b.risks)
			}
			p.parentID = id

			next = append(next, node{
				x:         wx / float64(numPoints),
				y:         wy / float64(numPoints),
				zoom:      math.MaxInt,
				index:     i,
				id:        id,
				parentID:  -1,
				numPoints: numPoints,
				emissions: emissions,
				risks:     risks,
			})
			continue
		}

		next = append(next, p.carry())
		if numPoints > 1 {
			// Too few to cluster: keep the neighbors as-is so they are not revisited.
			for _, nb := range neighbors {
				b := &prev.nodes[nb]
				if b.zoom <= zoom {
					continue
				}
				b.zoom = zoom
				next = append(next, b.carry())
			}
		}
	}
	return next
}

// encodeID packs the origin index and origin zoom into a cluster id that can
// never collide with a point index.
func (ix *Index) encodeID(index, zoom int) int {
	return (index << 5) + (zoom + 1) + len(ix.points)
}

func (ix *Index) decodeID(clusterID int) (index, originZoom int, ok bool) {
	v := clusterID - len(ix.points)
	if v < 0 {
		return 0, 0, false
	}
	index, originZoom = v>>5, v%32
	if originZoom <= ix.opts.MinZoom || originZoom > ix.opts.MaxZoom+1 {
		return 0, 0, false
	}
	if index >= len(ix.levels[originZoom].nodes) {
		return 0, 0, false
	}
	return index, originZoom, true
}

func (ix *Index) limitZoom(z int) int {
	return max(ix.opts.MinZoom, min(z, ix.opts.MaxZoom+1))
}

// Clusters returns the clusters and single points inside bbox at zoom.
func (ix *Index) Clusters(bbox domain.BBox, zoom int) []Feature {
	if !bbox.Valid() {
		return nil
	}
	minLng := math.Mod(math.Mod(bbox.West+180, 360)+360, 360) - 180
	minLat := math.Max(-90, math.Min(90, bbox.South))
	maxLng := bbox.East
	if bbox.East != 180 {
		maxLng = math.Mod(math.Mod(bbox.East+180, 360)+360, 360) - 180
	}
	maxLat := math.Max(-90, math.Min(90, bbox.North))

	if bbox.East-bbox.West >= 360 {
		minLng, maxLng = -180, 180
	} else if minLng > maxLng {
		east := ix.Clusters(domain.BBox{West: minLng, South: minLat, East: 180, North: maxLat}, zoom)
		west := ix.Clusters(domain.BBox{West: -180, South: minLat, East: maxLng, North: maxLat}, zoom)
		return append(east, west...)
	}

	lvl := ix.levels[ix.limitZoom(zoom)]
	ids := lvl.tree.rangeQuery(lngX(minLng), latY(maxLat), lngX(maxLng), latY(minLat))
	features := make([]Feature, 0, len(ids))
	for _, id := range ids {
		features = append(features, ix.feature(lvl.nodes[id]))
	}
	return features
}

func (ix *Index) feature(n node) Feature {
	if !n.isCluster() {
		p := ix.points[n.index]
		return Feature{
			Count:     1,
			Lat:       p.Lat,
			Lng:       p.Lng,
			Emissions: n.emissions,
			Risks:     n.risks,
			Point:     &p,
		}
	}
	f := Feature{
		Cluster:   true,
		ClusterID: n.id,
		Count:     n.numPoints,
		Lat:       yLat(n.y),
		Lng:       xLng(n.x),
		Emissions: n.emissions,
		Risks:     n.risks,
	}
	if z, err := ix.ExpansionZoom(n.id); err == nil {
		f.ExpansionZoom = z
	}
	return f
}

// Children returns the items a cluster splits into one zoom level up.
func (ix *Index) Children(clusterID int) ([]Feature, error) {
	index, originZoom, ok := ix.decodeID(clusterID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}

	lvl := ix.levels[originZoom]
	origin := lvl.nodes[index]
	r := ix.opts.Radius / (ix.opts.Extent * math.Pow(2, float64(originZoom-1)))

	var children []Feature
	for _, id := range lvl.tree.within(origin.x, origin.y, r) {
		if lvl.nodes[id].parentID == clusterID {
			children = append(children, ix.feature(lvl.nodes[id]))
		}
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	return children, nil
}

// ExpansionZoom returns the lowest zoom at which the cluster breaks into more
// than one item.
func (ix *Index) ExpansionZoom(clusterID int) (int, error) {
	_, originZoom, ok := ix.decodeID(clusterID)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}

	expansionZoom := originZoom - 1
	for expansionZoom <= ix.opts.MaxZoom {
		children, err := ix.childNodes(clusterID)
		if err != nil {
			return 0, err
		}
		expansionZoom++
		if len(children) != 1 || !children[0].isCluster() {
			break
		}
		clusterID = children[0].id
	}
	return expansionZoom, nil
}

// childNodes is Children without building features, used by ExpansionZoom.
func (ix *Index) childNodes(clusterID int) ([]node, error) {
	index, originZoom, ok := ix.decodeID(clusterID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	lvl := ix.levels[originZoom]
	origin := lvl.nodes[index]
	r := ix.opts.Radius / (ix.opts.Extent * math.Pow(2, float64(originZoom-1)))

	var children []node
	for _, id := range lvl.tree.within(origin.x, origin.y, r) {
		if lvl.nodes[id].parentID == clusterID {
			children = append(children, lvl.nodes[id])
		}
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrClusterNotFound, clusterID)
	}
	return children, nil
}

// Leaves returns up to limit member points of a cluster, skipping offset.
// A limit of 0 or less returns every remaining member.
func (ix *Index) Leaves(clusterID, limit, offset int) ([]domain.FacilityPoint, error) {
	if limit <= 0 {
		limit = math.MaxInt
	}
	var leaves []domain.FacilityPoint
	if _, err := ix.appendLeaves(&leaves, clusterID, limit, offset, 0); err != nil {
		return nil, err
	}
	return leaves, nil
}

func (ix *Index) appendLeaves(out *[]domain.FacilityPoint, clusterID, limit, offset, skipped int) (int, error) {
	children, err := ix.childNodes(clusterID)
	if err != nil {
		return skipped, err
	}
	for _, c := range children {
		if len(*out) == limit {
			break
		}
		if c.isCluster() {
			if skipped+c.numPoints <= offset {
				skipped += c.numPoints
				continue
			}
			skipped, err = ix.appendLeaves(out, c.id, limit, offset, skipped)
			if err != nil {
				return skipped, err
			}
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		*out = append(*out, ix.points[c.index])
	}
	return skipped, nil
}
