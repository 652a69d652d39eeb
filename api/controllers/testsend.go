package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/reviewflow-backend/api/responses"
	"github.com/angelmondragon/reviewflow-backend/api/validators"
	"github.com/angelmondragon/reviewflow-backend/internal/testsend"
	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
	"github.com/angelmondragon/reviewflow-backend/pkg/logger"
)

type TestSendService interface {
	Send(ctx context.Context, businessID uuid.UUID, in testsend.Input) (*testsend.Result, error)
	Status(ctx context.Context, businessID uuid.UUID) (*testsend.Status, error)
}

type testSendRequest struct {
	Provider string `json:"provider" validate:"required"`
	Phone    string `json:"phone" validate:"max=32"`
}

// TestSend sends one quota-limited test message.
func TestSend(svc TestSendService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "test send service")
			return
		}
		businessID, ok := businessFromRequest(w, r, logg)
		if !ok {
			return
		}
		var body testSendRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		provider, err := enums.ParseProvider(body.Provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown provider"))
			return
		}

		result, err := svc.Send(r.Context(), businessID, testsend.Input{
			Provider: provider,
			Phone:    validators.SanitizeString(body.Phone, 32),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// TestSendStatus reports today's remaining test sends.
func TestSendStatus(svc TestSendService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			serviceUnavailable(w, r, logg, "test send service")
			return
		}
		businessID, ok := businessFromRequest(w, r, logg)
		if !ok {
			return
		}
		status, err := svc.Status(r.Context(), businessID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}
