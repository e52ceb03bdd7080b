package lod

import (
	"sync"

	"github.com/couchcryptid/emissions-equity-map/internal/cluster"
	"github.com/couchcryptid/emissions-equity-map/internal/domain"
)

var _ Surface = (*Frame)(nil)

// Frame is a Surface that records the current contents of both layers so they
// can be handed to a client.
type Frame struct {
	mu       sync.RWMutex
	points   []domain.FacilityPoint
	clusters []cluster.Feature
}

// ShowPoints implements Surface.
func (f *Frame) ShowPoints(points []domain.FacilityPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = points
}

// ClearPoints implements Surface.
func (f *Frame) ClearPoints() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = nil
}

// ShowClusters implements Surface.
func (f *Frame) ShowClusters(features []cluster.Feature) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clusters = features
}

// ClearClusters implements Surface.
func (f *Frame) ClearClusters() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clusters = nil
}

// Layers returns the current raw and aggregate layer contents.
func (f *Frame) Layers() (points []domain.FacilityPoint, clusters []cluster.Feature) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.points, f.clusters
}
