package server

import (
	"github.com/JeroenDeDauw/server/server/gpgnet"
	"go.uber.org/zap"
)

// Notifier pushes lobby notices to online players. Delivery is best effort.
type Notifier interface {
	Notify(playerID int64, messages ...string)
}

var _ Notifier = &PlayerRegistry{}

// Notify sends each message as a notice to the player's session. Offline players are skipped
// and send failures are logged.
func (r *PlayerRegistry) Notify(playerID int64, messages ...string) {
	if len(messages) == 0 {
		return
	}
	session, ok := r.Session(playerID)
	if !ok {
		r.logger.Debug("Player offline, notice dropped", zap.Int64("player_id", playerID))
		return
	}
	for _, msg := range messages {
		if err := session.Send(gpgnet.NewScoresNotice(msg)); err != nil {
			session.Logger().Warn("Failed to send notice", zap.Error(err))
			return
		}
	}
}
