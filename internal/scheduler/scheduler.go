// Package scheduler runs the periodic ping and stale-prune sweeps over
// every live connection, driven by robfig/cron the way the rest of the
// codebase schedules recurring background work.
package scheduler

import (
	"github.com/robfig/cron/v3"

	"github.com/pulsewire/broker/internal/broker"
	"github.com/pulsewire/broker/internal/logger"
)

// sweepSchedule governs how often every connection is scanned. Each
// connection's own Inactive/Stale thresholds derive from its app's
// configured ping_interval, so this only needs finer granularity than the
// smallest configured interval to catch transitions promptly.
const sweepSchedule = "@every 1s"

// Scheduler owns the cron runner behind the ping/prune sweep.
type Scheduler struct {
	broker *broker.Broker
	cron   *cron.Cron
}

// New constructs a Scheduler for b. Call Start to begin sweeping.
func New(b *broker.Broker) *Scheduler {
	return &Scheduler{broker: b, cron: cron.New()}
}

// Start registers and starts the sweep job.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(sweepSchedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop waits for any in-flight sweep to finish, then stops the cron runner.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// sweep pings every Inactive connection and terminates every Stale one.
// Both checks run in the same pass since the two states are mutually
// exclusive for a given connection.
func (s *Scheduler) sweep() {
	log := logger.Component("scheduler")
	for _, app := range s.broker.Apps() {
		for _, conn := range s.broker.Connections(app.AppID) {
			switch {
			case conn.IsStale():
				log.Debug().Str("socket_id", conn.ID()).Str("app_id", app.AppID).Msg("pruning stale connection")
				s.broker.Disconnect(conn)
				conn.Terminate()
			case conn.IsInactive():
				s.pingConnection(conn)
			}
		}
	}
}

func (s *Scheduler) pingConnection(conn *broker.Connection) {
	conn.Ping()
	if conn.UsesControlFrames {
		conn.Conn.Control(broker.PingOpcode)
		return
	}
	conn.Send(broker.EncodeFrame(broker.NewFrame("pusher:ping", "", nil)))
}
