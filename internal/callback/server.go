package callback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/example/notify/internal/common"
)

type Server struct {
	Reconciler *Reconciler
	Logger     zerolog.Logger
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/notifications/email/{provider}", s.handleEmail)
	r.Post("/notifications/sms/{provider}", s.handleSMS)
	return r
}

func (s *Server) handleEmail(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("callback").Start(r.Context(), "email-callback")
	defer span.End()

	providerName := chi.URLParam(r, "provider")
	span.SetAttributes(attribute.String("provider", providerName))
	if providerName != "ses" {
		s.respondErr(ctx, w, errors.New("unsupported email provider"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondErr(ctx, w, err)
		return
	}

	if err := s.Reconciler.ProcessSES(ctx, body); err != nil {
		span.RecordError(err)
		s.respondErr(ctx, w, err)
		return
	}
	s.respondOK(w, "SES callback succeeded")
}

func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("callback").Start(r.Context(), "sms-callback")
	defer span.End()

	providerName := chi.URLParam(r, "provider")
	span.SetAttributes(attribute.String("provider", providerName))

	var report SMSReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		s.respondErr(ctx, w, err)
		return
	}

	if err := s.Reconciler.ProcessSMS(ctx, providerName, report); err != nil {
		span.RecordError(err)
		s.respondErr(ctx, w, err)
		return
	}
	s.respondOK(w, "SMS callback succeeded")
}

func (s *Server) respondOK(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"result":  "success",
		"message": message,
	})
}

func (s *Server) respondErr(ctx context.Context, w http.ResponseWriter, err error) {
	logger := common.WithContext(ctx, s.Logger)
	logger.Error().Err(err).Msg("callback handler error")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]string{
			{"error": errorName(err), "message": err.Error()},
		},
	})
}

func errorName(err error) string {
	var validation *ValidationError
	if errors.As(err, &validation) {
		return "ValidationError"
	}
	var unknown *UnknownStatusError
	if errors.As(err, &unknown) {
		return "UnknownStatusError"
	}
	return "InvalidRequest"
}
