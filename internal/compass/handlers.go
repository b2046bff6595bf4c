package compass

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/imadgeboyega/kiekky-compass/internal/auth"
	"github.com/imadgeboyega/kiekky-compass/internal/common/utils"
	"github.com/imadgeboyega/kiekky-compass/internal/logging"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	userID, ok := requesterID(w, r)
	if !ok {
		return
	}

	interest := r.URL.Query().Get("interest")
	if len(interest) > 64 {
		utils.RespondWithError(w, http.StatusBadRequest, "interest must be at most 64")
		return
	}

	resp, err := h.service.Discover(r.Context(), userID, interest)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) LogSwipe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requesterID(w, r)
	if !ok {
		return
	}

	var dto SwipeDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := utils.ValidateStruct(&dto); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.LogSwipe(r.Context(), userID, &dto)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	userID, ok := requesterID(w, r)
	if !ok {
		return
	}

	result, err := h.service.CompleteOnboarding(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) RecordShown(w http.ResponseWriter, r *http.Request) {
	userID, ok := requesterID(w, r)
	if !ok {
		return
	}

	var dto SeenDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := utils.ValidateStruct(&dto); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.RecordShown(r.Context(), userID, dto.ProfileIDs); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetTokens(w http.ResponseWriter, r *http.Request) {
	userID, ok := requesterID(w, r)
	if !ok {
		return
	}

	tokens, err := h.service.GetTokens(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, tokens)
}

func requesterID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return userID, ok
}

// respondServiceError maps sentinel errors to status codes. Anything else is
// logged and answered with a generic body.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrRequiresTokens):
		utils.RespondWithError(w, http.StatusPaymentRequired, CodeRequiresTokens)
	case errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrTargetNotFound):
		utils.RespondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidAction), errors.Is(err, ErrCannotSwipeSelf):
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrOnboardingIncomplete):
		utils.RespondWithError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidDNA):
		utils.RespondWithError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logging.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		utils.RespondInternalError(w)
	}
}
