package server

import (
	"log"

	"lanchat/wire"
)

// sendTo enqueues frames for one user. Absent user means offline: the frames
// are silently skipped, never queued for later.
func (s *Server) sendTo(userID int64, frames ...*wire.Frame) bool {
	sess, ok := s.registry.Get(userID)
	if !ok {
		return false
	}
	sess.enqueue(frames...)
	return true
}

// sendToGroup fans frames out to every current member of a group except
// exclude (pass 0 to reach everyone). One unreachable member never aborts the
// others.
func (s *Server) sendToGroup(groupID, exclude int64, frames ...*wire.Frame) {
	memberIDs, err := s.store.GetGroupMemberIDs(groupID)
	if err != nil {
		log.Printf("group %d membership lookup failed: %v", groupID, err)
		return
	}
	for _, id := range memberIDs {
		if id == exclude {
			continue
		}
		s.sendTo(id, frames...)
	}
}

// broadcastToFriends pushes a frame to every online friend of a user,
// typically a presence change.
func (s *Server) broadcastToFriends(userID int64, frame *wire.Frame) {
	friendIDs, err := s.store.GetFriendIDs(userID)
	if err != nil {
		return
	}
	for _, id := range friendIDs {
		s.sendTo(id, frame)
	}
}
