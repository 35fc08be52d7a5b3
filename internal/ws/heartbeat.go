package ws

import (
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping
	Timeout  time.Duration // grace after a missed ping
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// runHeartbeat pings every connection each Interval and evicts those that
// have sent nothing for Interval+Timeout. It returns when the server stops.
func (s *Server) runHeartbeat(cfg HeartbeatConfig) {
	defer s.wg.Done()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.checkConnections(now, cfg)
		}
	}
}

func (s *Server) checkConnections(now time.Time, cfg HeartbeatConfig) {
	deadline := cfg.Interval + cfg.Timeout
	for _, c := range s.hub.All() {
		if idle := now.Sub(c.LastSeen()); idle > deadline {
			s.log.Info().Str("conn_id", c.ID).Dur("idle", idle.Round(time.Second)).Msg("heartbeat timeout")
			s.hub.Remove(c)
			continue
		}
		if err := c.WritePing(); err != nil {
			s.log.Debug().Err(err).Str("conn_id", c.ID).Msg("heartbeat ping failed")
			s.hub.Remove(c)
		}
	}
}
