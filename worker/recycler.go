package worker

import (
	"time"

	"go.uber.org/zap"
)

// recycleLoop retires the worker on every tick at which nothing holds it.
// Recycling never preempts a render; a busy tick is simply skipped.
func (m *Manager) recycleLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.recycleEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.Recycle() && m.Running() {
				m.logger.Debug("recycle skipped, renders in flight", zap.Int("active", m.Active()))
			}
		}
	}
}
