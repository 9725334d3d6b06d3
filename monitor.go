package supervisor

// watch waits for c to exit and hands the status to the loop. There is one
// watcher per spawned child.
func (s *Supervisor) watch(c *child) {
	st := c.proc.Wait()
	select {
	case s.exits <- exitNotice{child: c, status: st}:
	case <-s.closing:
	}
}
