package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
	"github.com/DoyleJ11/beat-escape-backend/internal/storage"
	"github.com/DoyleJ11/beat-escape-backend/pkg/types"
)

// WorkStore keeps learners' saved work records.
type WorkStore interface {
	SaveWork(ctx context.Context, activityID string, rec types.WorkRecord) error
	GetWork(ctx context.Context, activityID string) (types.WorkRecord, error)
}

type handlers struct {
	rooms    room.Service
	work     WorkStore
	validate *validator.Validate
	log      *zap.Logger
}

// maxBody caps request bodies; a full grid patch is well under 1 KiB.
const maxBody = 64 << 10

func (h *handlers) createRoom(w http.ResponseWriter, r *http.Request) {
	var req types.CreateRoomRequest
	if !h.decode(w, r, &req) {
		return
	}
	code, err := h.rooms.CreateRoom(r.Context(), room.Mode(req.Mode), req.Theme)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.CreateRoomResponse{Code: code})
}

func (h *handlers) getRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := h.rooms.GetRoom(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

func (h *handlers) patchLock(w http.ResponseWriter, r *http.Request) {
	lock, err := strconv.Atoi(chi.URLParam(r, "lock"))
	if err != nil {
		h.writeError(w, r, room.ErrInvalidLock)
		return
	}
	var req types.LockPatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch := room.LockPatch{Grid: req.Grid, PlayerIndex: *req.PlayerIndex}
	if err := h.rooms.PatchLock(r.Context(), chi.URLParam(r, "code"), lock, patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) patchActive(w http.ResponseWriter, r *http.Request) {
	var req types.ActivePatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch := room.ActivePatch{PlayerIndex: *req.PlayerIndex, LockNumber: *req.LockNumber}
	if err := h.rooms.PatchActiveLock(r.Context(), chi.URLParam(r, "code"), patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) patchReady(w http.ResponseWriter, r *http.Request) {
	var req types.ReadyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.rooms.PatchReady(r.Context(), chi.URLParam(r, "code"), *req.PlayerIndex); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) claimSlot(w http.ResponseWriter, r *http.Request) {
	var req types.ClaimSlotRequest
	if !h.decode(w, r, &req) {
		return
	}
	player, err := h.rooms.ClaimSlot(r.Context(), chi.URLParam(r, "code"), req.ClientID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ClaimSlotResponse{PlayerIndex: player})
}

func (h *handlers) putWork(w http.ResponseWriter, r *http.Request) {
	var req types.WorkRecord
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.work.SaveWork(r.Context(), chi.URLParam(r, "activityID"), req); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) getWork(w http.ResponseWriter, r *http.Request) {
	rec, err := h.work.GetWork(r.Context(), chi.URLParam(r, "activityID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// decode reads and validates a JSON body, writing a 400 when it fails.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Code: types.CodeBadRequest, Error: "bad json"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		resp := types.ErrorResponse{Code: types.CodeBadRequest, Error: "invalid request"}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			resp.Fields = make(map[string]string, len(verrs))
			for _, fe := range verrs {
				resp.Fields[fe.Field()] = fmt.Sprintf("failed on %q", fe.Tag())
			}
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, status, types.ErrorResponse{Code: code, Error: http.StatusText(status)})
		return
	}
	writeJSON(w, status, types.ErrorResponse{Code: code, Error: err.Error()})
}

func statusFor(err error) (int, string) {
	if errors.Is(err, storage.ErrWorkNotFound) {
		return http.StatusNotFound, types.CodeWorkNotFound
	}
	code := types.CodeFor(err)
	switch code {
	case types.CodeRoomNotFound:
		return http.StatusNotFound, code
	case types.CodeNotLockOwner:
		return http.StatusForbidden, code
	case types.CodeRoomSealed, types.CodeRoomFull:
		return http.StatusConflict, code
	case "":
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return http.StatusServiceUnavailable, types.CodeInternal
		}
		return http.StatusInternalServerError, types.CodeInternal
	default:
		return http.StatusBadRequest, code
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
