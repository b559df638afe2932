package store

import (
	"encoding/json"
	"strings"

	"chatsync/pkg/apperr"
	"chatsync/pkg/models"
	"chatsync/pkg/store/keys"
)

func (s *Store) GetSession(id string) (*models.LiveSession, error) {
	var ls models.LiveSession
	ok, err := s.getJSON(keys.Session(id), &ls)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("store.get_session", "session %s not found", id)
	}
	return &ls, nil
}

// PutSession writes session metadata. Sessions that are not ended stay
// indexed under their host so a host disconnect can find them.
func (w *Writer) PutSession(ls *models.LiveSession) {
	w.putJSON(keys.Session(ls.ID), ls)
	if ls.Status == models.SessionEnded {
		w.del(keys.Hosted(ls.HostID, ls.ID))
	} else {
		w.putRaw(keys.Hosted(ls.HostID, ls.ID), "")
	}
}

// DeleteSession purges a session and its join requests.
func (w *Writer) DeleteSession(ls *models.LiveSession, requestIDs []string) {
	w.delPrefix("s:" + ls.ID + ":")
	w.del(keys.Hosted(ls.HostID, ls.ID))
	for _, rid := range requestIDs {
		w.del(keys.JoinRequestID(rid))
	}
}

// HostedSessions lists the non-ended sessions hosted by userID.
func (s *Store) HostedSessions(userID string) ([]string, error) {
	prefix := keys.HostedSessions(userID)
	var out []string
	err := s.scan(prefix, "", func(k, _ []byte) (bool, error) {
		out = append(out, strings.TrimPrefix(string(k), prefix))
		return true, nil
	})
	return out, err
}

// Sessions visits every session's metadata. fn returns false to stop.
func (s *Store) Sessions(fn func(*models.LiveSession) bool) error {
	return s.scan(keys.SessionMetaPrefix, "", func(k, v []byte) (bool, error) {
		if !strings.HasSuffix(string(k), ":meta") {
			return true, nil
		}
		var ls models.LiveSession
		if err := json.Unmarshal(v, &ls); err != nil {
			return true, nil
		}
		return fn(&ls), nil
	})
}

// PutJoinRequest writes the request, its id index, and the per-user pending
// marker which exists only while the request is pending.
func (w *Writer) PutJoinRequest(r *models.JoinRequest) {
	w.putJSON(keys.JoinRequest(r.SessionID, r.ID), r)
	w.putRaw(keys.JoinRequestID(r.ID), r.SessionID)
	if r.Status == models.JoinPending {
		w.putRaw(keys.PendingJoin(r.SessionID, r.UserID), r.ID)
	} else {
		w.del(keys.PendingJoin(r.SessionID, r.UserID))
	}
}

func (s *Store) GetJoinRequest(id string) (*models.JoinRequest, error) {
	sid, ok, err := s.getRaw(keys.JoinRequestID(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("store.get_join_request", "join request %s not found", id)
	}
	var r models.JoinRequest
	ok, err = s.getJSON(keys.JoinRequest(string(sid), id), &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("store.get_join_request", "join request %s not found", id)
	}
	return &r, nil
}

// PendingJoinRequest returns the pending request of userID for the session,
// or nil.
func (s *Store) PendingJoinRequest(sid, userID string) (*models.JoinRequest, error) {
	rid, ok, err := s.getRaw(keys.PendingJoin(sid, userID))
	if err != nil || !ok {
		return nil, err
	}
	var r models.JoinRequest
	ok, err = s.getJSON(keys.JoinRequest(sid, string(rid)), &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

// JoinRequests lists requests for a session; an empty status matches all.
func (s *Store) JoinRequests(sid string, status models.JoinStatus) ([]models.JoinRequest, error) {
	var out []models.JoinRequest
	err := s.scan(keys.JoinRequests(sid), "", func(_, v []byte) (bool, error) {
		var r models.JoinRequest
		if err := json.Unmarshal(v, &r); err != nil {
			return false, err
		}
		if status == "" || r.Status == status {
			out = append(out, r)
		}
		return true, nil
	})
	return out, err
}
