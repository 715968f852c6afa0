package mockserver

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tuanbt/vickyboard/internal/task"
)

func (s *Server) activeLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := s.store.ActiveLocks()
	if err != nil {
		s.internalError(w, "failed to list locks", err)
		return
	}
	respondWithJSON(w, http.StatusOK, locks)
}

func (s *Server) poisonedLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := s.store.PoisonedLocks()
	if err != nil {
		s.internalError(w, "failed to list locks", err)
		return
	}
	respondWithJSON(w, http.StatusOK, locks)
}

func (s *Server) poisonedLocksDetailed(w http.ResponseWriter, r *http.Request) {
	locks, err := s.store.PoisonedLocksDetailed()
	if err != nil {
		s.internalError(w, "failed to list locks", err)
		return
	}
	respondWithJSON(w, http.StatusOK, locks)
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Unlock(mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, task.ErrLockNotFound) {
			respondWithError(w, http.StatusNotFound, "Lock not found")
			return
		}
		s.internalError(w, "failed to unlock", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
