package api

import (
	"net/http"

	"github.com/agentsh/yfass/internal/apierr"
	"github.com/agentsh/yfass/internal/auth"
	"github.com/agentsh/yfass/pkg/types"
	"github.com/go-chi/chi/v5"
)

// parseKey parses the {key} URL param; on an invalid key it writes a 400
// response and returns ok=false.
func (a *App) parseKey(w http.ResponseWriter, r *http.Request) (types.FunctionKey, bool) {
	raw := chi.URLParam(r, "key")
	key, err := types.ParseFunctionKey(raw)
	if err != nil {
		writeErr(w, apierr.Wrap(apierr.BadRequest, "invalid function key", err))
		return types.FunctionKey{}, false
	}
	return key, true
}

func (a *App) handleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	if !a.requirePermission(w, user, types.PermWrite) {
		return
	}
	key, ok := a.parseKey(w, r)
	if !ok {
		return
	}
	if key.IsAlias() {
		writeErr(w, apierr.New(apierr.BadRequest, "upload requires name@version"))
		return
	}

	ct := r.Header.Get("Content-Type")
	if ct == "" {
		writeErr(w, apierr.New(apierr.BadRequest, "missing content type"))
		return
	}
	if !validUploadContentType(ct) {
		writeErr(w, apierr.New(apierr.BadRequest, "unsupported content type: "+ct))
		return
	}

	// §6 gives upload only a tar body; configuration is attached
	// afterwards via PUT /api/override/{key}. Upload records a
	// zero-value config so the (name, version) exists; deploy does not
	// check whether a real addr/sandbox config has been set since.
	if err := a.Functions.Upload(key, ct, r.Body, types.FunctionConfig{}); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key.String()})
}

func (a *App) handleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	if !a.requirePermission(w, user, types.PermRead) {
		return
	}
	key, ok := a.parseKey(w, r)
	if !ok {
		return
	}
	record, err := a.Functions.Get(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *App) handleOverride(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	key, ok := a.parseKey(w, r)
	if !ok {
		return
	}
	record, err := a.Functions.Get(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := auth.RequirePermissionAndGroup(user, types.PermWrite, record.Config.Group); err != nil {
		writeErr(w, err)
		return
	}
	cfg, err := decodeFunctionConfig(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := a.Functions.Override(key, cfg); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key.String()})
}

type aliasRequest struct {
	Alias *string `json:"alias"`
}

func (a *App) handleAlias(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	key, ok := a.parseKey(w, r)
	if !ok {
		return
	}
	record, err := a.Functions.Get(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := auth.RequirePermissionAndGroup(user, types.PermWrite, record.Config.Group); err != nil {
		writeErr(w, err)
		return
	}
	var req aliasRequest
	if err := decodeStrictJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := a.Functions.Alias(key, req.Alias); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key.String()})
}

func (a *App) handleRemove(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	key, ok := a.parseKey(w, r)
	if !ok {
		return
	}
	record, err := a.Functions.Get(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := auth.RequirePermissionAndGroup(user, types.PermRemove, record.Config.Group); err != nil {
		writeErr(w, err)
		return
	}
	if err := a.Functions.Remove(key); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key.String()})
}

func (a *App) handleDeploy(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	key, ok := a.parseKey(w, r)
	if !ok {
		return
	}
	record, err := a.Functions.Get(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := auth.RequirePermissionAndGroup(user, types.PermExecute, record.Config.Group); err != nil {
		writeErr(w, err)
		return
	}
	if err := a.Runtime.Deploy(r.Context(), record); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key.String()})
}

func (a *App) handleKill(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	key, ok := a.parseKey(w, r)
	if !ok {
		return
	}
	record, err := a.Functions.Get(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := auth.RequirePermissionAndGroup(user, types.PermExecute, record.Config.Group); err != nil {
		writeErr(w, err)
		return
	}
	if err := a.Runtime.Kill(r.Context(), record.Meta.Name, record.Meta.Version); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key.String()})
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, ok := a.requireAuth(w, r)
	if !ok {
		return
	}
	key, ok := a.parseKey(w, r)
	if !ok {
		return
	}
	record, err := a.Functions.Get(key)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := auth.RequirePermissionAndGroup(user, types.PermExecute, record.Config.Group); err != nil {
		writeErr(w, err)
		return
	}
	running := a.Runtime.Status(record.Meta.Name, record.Meta.Version)
	writeJSON(w, http.StatusOK, map[string]bool{"running": running})
}

func decodeFunctionConfig(r *http.Request) (types.FunctionConfig, error) {
	var cfg types.FunctionConfig
	if err := decodeStrictJSON(r, &cfg); err != nil {
		return types.FunctionConfig{}, err
	}
	return cfg, nil
}

func validUploadContentType(ct string) bool {
	switch ct {
	case "application/x-tar", "application/gzip", "application/x-gzip":
		return true
	default:
		return false
	}
}
