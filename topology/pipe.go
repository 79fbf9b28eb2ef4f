package topology

import "sync"

// pipeKey identifies one logical point-to-point channel: a directed edge
// between two virtual ranks carrying messages of one tag. Ghost exchange
// derives tags from (direction, variable index) so that up-slabs and
// down-slabs of different variables never cross-talk, per the core design.
type pipeKey struct {
	src, dst Rank
	tag      int
}

// pipeRegistry lazily creates one buffered channel per (src,dst,tag) edge.
// The buffer of one message means Send never blocks waiting for the peer
// to have already posted a receive, mirroring a non-blocking MPI Isend;
// ReceiveExpect blocks until the matching message arrives, mirroring Wait.
type pipeRegistry struct {
	mu        sync.Mutex
	rankCount int
	chans     map[pipeKey]chan []byte
}

func newPipeRegistry(rankCount int) *pipeRegistry {
	return &pipeRegistry{rankCount: rankCount, chans: make(map[pipeKey]chan []byte)}
}

func (p *pipeRegistry) channel(key pipeKey) chan []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.chans[key]
	if !ok {
		ch = make(chan []byte, 1)
		p.chans[key] = ch
	}
	return ch
}

// Send posts a message to dst under the given tag. Ownership of data
// transfers to the channel; callers must not mutate it afterwards.
func (g *Group) Send(dst Rank, tag int, data []byte) {
	ch := g.world.pipe.channel(pipeKey{src: g.virtual, dst: dst, tag: tag})
	ch <- data
}

// ReceiveExpect blocks until a message tagged tag arrives from src.
func (g *Group) ReceiveExpect(src Rank, tag int) []byte {
	ch := g.world.pipe.channel(pipeKey{src: src, dst: g.virtual, tag: tag})
	return <-ch
}
