package api

import (
	"net/http"

	"github.com/agentsh/yfass/internal/auth"
	"github.com/agentsh/yfass/pkg/types"
	"github.com/go-chi/chi/v5"
)

type userAddRequest struct {
	Name   string   `json:"name"`
	Groups []string `json:"groups,omitempty"`
}

func (a *App) handleUserAdd(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	if !a.requirePermission(w, user, types.PermAdmin) {
		return
	}
	var req userAddRequest
	if err := decodeStrictJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := a.Users.AddUser(types.User{Name: req.Name, Groups: req.Groups}); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": req.Name})
}

func (a *App) handleUserGet(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if err := auth.RequireSelfOrAdmin(caller, name); err != nil {
		writeErr(w, err)
		return
	}
	u, err := a.Users.GetUser(name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (a *App) handleUserRemove(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRoot(caller); err != nil {
		writeErr(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	if err := a.Users.RemoveUser(name); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

type requestTokenRequest struct {
	User     string `json:"user"`
	Duration int    `json:"duration,omitempty"`
}

func (a *App) handleRequestToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	if !a.requirePermission(w, caller, types.PermAdmin) {
		return
	}
	var req requestTokenRequest
	if err := decodeStrictJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := a.Users.GetUser(req.User); err != nil {
		writeErr(w, err)
		return
	}
	tok, err := a.Users.IssueToken(req.User, req.Duration)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(tok.Bearer))
}

type userModifyRequest struct {
	Name   string   `json:"name"`
	Groups []string `json:"groups,omitempty"`
}

func (a *App) handleUserModify(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	if !a.requirePermission(w, caller, types.PermAdmin) {
		return
	}
	var req userModifyRequest
	if err := decodeStrictJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := a.Users.ModifyUser(types.User{Name: req.Name, Groups: req.Groups}); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": req.Name})
}
