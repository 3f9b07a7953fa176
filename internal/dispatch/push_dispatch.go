package dispatch

import (
	"github.com/example/carpool/internal/models"
)

// PushDispatcher tries the live websocket session first and falls back to
// push delivery for users who are not currently connected.
type PushDispatcher struct {
	WS       *WSRegistry
	Fallback Notifier
}

func NewPushDispatcher(ws *WSRegistry, fallback Notifier) *PushDispatcher {
	return &PushDispatcher{WS: ws, Fallback: fallback}
}

func (p *PushDispatcher) Notify(userID string, ev models.Event) error {
	if p.WS != nil {
		if err := p.WS.Notify(userID, ev); err == nil {
			return nil
		}
	}
	if p.Fallback != nil {
		return p.Fallback.Notify(userID, ev)
	}
	return nil
}
