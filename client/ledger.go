package client

import (
	"sync"

	"lanchat/models"
)

// sendLedger tracks optimistic placeholders by temp id. Resolving removes
// the entry, so the server confirmation and the broadcast echo race safely:
// whichever arrives second finds nothing and does nothing.
type sendLedger struct {
	mu      sync.Mutex
	pending map[string]*models.Message
}

func newSendLedger() *sendLedger {
	return &sendLedger{pending: make(map[string]*models.Message)}
}

func (l *sendLedger) add(tempID string, msg *models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[tempID] = msg
}

// resolve stamps the real id onto the placeholder and removes it. A miss
// means "already resolved", not an error.
func (l *sendLedger) resolve(tempID string, realID int64) (*models.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg, ok := l.pending[tempID]
	if !ok {
		return nil, false
	}
	delete(l.pending, tempID)
	msg.ID = realID
	return msg, true
}

func (l *sendLedger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
