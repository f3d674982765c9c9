package postprocess

import "sync"

// idGenerator holds a counter for generating the next incremental ID number
// assigned to each detection result
type idGenerator struct {
	id int64
	sync.Mutex
}

func newIDGenerator() *idGenerator {
	return &idGenerator{}
}

// getNext returns the next incremental number
func (g *idGenerator) getNext() int64 {
	g.Lock()
	defer g.Unlock()
	g.id++
	return g.id
}
