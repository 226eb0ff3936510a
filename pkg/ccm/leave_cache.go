package ccm

// leaveCache holds members that went dead. Their synthetic LEAVEs are
// handled before any bus traffic.
type leaveCache struct {
	queue []int
}

func (c *leaveCache) push(i int) {
	for _, q := range c.queue {
		if q == i {
			return
		}
	}
	c.queue = append(c.queue, i)
}

func (c *leaveCache) pop() (int, bool) {
	if len(c.queue) == 0 {
		return -1, false
	}
	i := c.queue[0]
	c.queue = c.queue[1:]
	return i, true
}

func (c *leaveCache) clear() { c.queue = nil }

func (c *leaveCache) len() int { return len(c.queue) }
