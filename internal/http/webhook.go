package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"spendlog/internal/core"
	"spendlog/internal/log"
)

// HeaderWebhookSignature carries hex(HMAC-SHA256(secret, body)), optionally
// prefixed with "sha256=".
const HeaderWebhookSignature = "X-Webhook-Signature"

const (
	eventUserCreated = "user.created"
	eventUserUpdated = "user.updated"
	eventUserDeleted = "user.deleted"
)

type identityEvent struct {
	Type string       `json:"type"`
	Data identityUser `json:"data"`
}

type identityUser struct {
	ID             string  `json:"id"`
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	ImageURL       *string `json:"image_url"`
	EmailAddresses []struct {
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
}

func (u identityUser) email() *string {
	if len(u.EmailAddresses) == 0 {
		return nil
	}
	return &u.EmailAddresses[0].EmailAddress
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (u identityUser) toUser() core.User {
	first, last := deref(u.FirstName), deref(u.LastName)
	return core.User{
		ExternalID: u.ID,
		Name:       strings.TrimSpace(first + " " + last),
		Email:      deref(u.email()),
		FirstName:  first,
		LastName:   last,
		Photo:      deref(u.ImageURL),
	}
}

func (u identityUser) toPatch() core.UserPatch {
	p := core.UserPatch{
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Photo:     u.ImageURL,
		Email:     u.email(),
	}
	if u.FirstName != nil || u.LastName != nil {
		name := strings.TrimSpace(deref(u.FirstName) + " " + deref(u.LastName))
		p.Name = &name
	}
	return p
}

// SignWebhook returns the signature header value for body.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, header string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	want, _ := hex.DecodeString(SignWebhook(secret, body))
	return hmac.Equal(got, want)
}

func (s *Server) handleIdentityWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx).WithComponent(log.ComponentWebhook)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Code: CodeBadRequest, Message: "Could not read body"})
		return
	}

	if !validSignature(s.webhookSecret, body, r.Header.Get(HeaderWebhookSignature)) {
		logger.WarnContext(ctx, "Webhook signature rejected",
			log.FieldErrorType, log.ErrorTypeAuth,
			log.FieldOperation, log.OpVerify)
		writeError(w, http.StatusUnauthorized, errorBody{Code: CodeUnauthorized, Message: "Invalid signature"})
		return
	}

	var evt identityEvent
	if err := json.Unmarshal(body, &evt); err != nil || strings.TrimSpace(evt.Data.ID) == "" {
		writeError(w, http.StatusBadRequest, errorBody{Code: CodeBadRequest, Message: "Invalid event payload"})
		return
	}

	if err := s.applyIdentityEvent(ctx, evt); err != nil {
		var ce *core.Error
		if errors.As(err, &ce) && ce.Kind == core.KindValidation {
			writeError(w, http.StatusBadRequest, errorBody{Code: CodeBadRequest, Message: ce.Message, Fields: ce.Fields})
			return
		}
		log.NewStructuredLogger(logger).LogError(ctx, "Webhook event failed", err, log.ErrorTypeDatabase, evt.Type,
			log.NewFields().WithUser(evt.Data.ID))
		writeError(w, http.StatusInternalServerError, errorBody{Code: CodeInternal, Message: "Failed to process event"})
		return
	}

	logger.InfoContext(ctx, "Webhook event processed",
		log.FieldEvent, evt.Type,
		log.FieldUserID, evt.Data.ID)
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (s *Server) applyIdentityEvent(ctx context.Context, evt identityEvent) error {
	switch evt.Type {
	case eventUserCreated:
		_, err := s.services.Users.Create(ctx, evt.Data.toUser())
		return err
	case eventUserUpdated:
		patch := evt.Data.toPatch()
		if patch.IsEmpty() {
			return nil
		}
		_, err := s.services.Users.Update(ctx, evt.Data.ID, patch)
		if core.KindOf(err) == core.KindNotFound {
			// The created event may have been lost.
			_, err = s.services.Users.Create(ctx, evt.Data.toUser())
		}
		return err
	case eventUserDeleted:
		err := s.services.Users.Delete(ctx, evt.Data.ID)
		if core.KindOf(err) == core.KindNotFound {
			return nil
		}
		return err
	default:
		log.FromContext(ctx).DebugContext(ctx, "Ignoring webhook event", log.FieldEvent, evt.Type)
		return nil
	}
}
