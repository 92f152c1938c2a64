package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modfin/bulkbrev"
	"github.com/modfin/bulkbrev/internal/bulk"
	"github.com/modfin/bulkbrev/internal/sanitize"
	"github.com/modfin/bulkbrev/internal/transport"
	"github.com/modfin/bulkbrev/pkg/zid"
	"github.com/modfin/henry/compare"
	"github.com/modfin/henry/slicez"
)

func health(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]any{
			"status":    "OK",
			"service":   "Bulk Email API",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"uptime":    time.Since(s.started).Seconds(),
		})
	}
}

func sendBulk(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var req bulkbrev.BulkRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			respond(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON", Message: err.Error()})
			return
		}
		req.Receivers = slicez.Map(req.Receivers, strings.TrimSpace)

		if details := validateBulk(req, s.config.MaxRecipients); len(details) > 0 {
			respond(w, http.StatusBadRequest, errorBody{Error: "Validation failed", Details: details})
			return
		}

		id := s.jobs.Submit(bulk.Request{
			Message: transport.Message{
				From:    compare.Coalesce(s.config.DefaultSender, req.Sender),
				Subject: req.Subject,
				HTML:    sanitize.HTML(req.Body),
				Text:    sanitize.PlainText(req.Body),
			},
			Recipients: req.Receivers,
		})

		respond(w, http.StatusAccepted, bulkbrev.BulkReceipt{
			Message:         "Bulk email processing started",
			RequestId:       id.String(),
			TotalRecipients: len(req.Receivers),
			StatusUrl:       fmt.Sprintf("/api/email-status/%s", id.String()),
		})
	}
}

func sendOne(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()

		var req bulkbrev.SingleRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil {
			respond(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON", Message: err.Error()})
			return
		}
		req.Receiver = strings.TrimSpace(req.Receiver)

		if req.Sender == "" || req.Receiver == "" || req.Subject == "" || req.Body == "" {
			respond(w, http.StatusBadRequest, errorBody{Error: "Missing required fields: sender, receiver, subject, body"})
			return
		}

		messageId, err := s.sender.Send(r.Context(), transport.Message{
			From:    compare.Coalesce(s.config.DefaultSender, req.Sender),
			To:      req.Receiver,
			Subject: req.Subject,
			HTML:    sanitize.HTML(req.Body),
			Text:    sanitize.PlainText(req.Body),
		})
		if err != nil {
			s.log.WithError(err).WithField("to", req.Receiver).Error("single email failed")
			respond(w, http.StatusInternalServerError, errorBody{Error: "Failed to send email", Message: err.Error()})
			return
		}

		respond(w, http.StatusOK, bulkbrev.SingleReceipt{
			Message:   "Email sent successfully",
			MessageId: messageId,
			Recipient: req.Receiver,
		})
	}
}

// parseWait accepts a go duration, eg. 30s, or a number of seconds
func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, serr := strconv.Atoi(raw)
		if serr != nil {
			return 0, fmt.Errorf("wait must be a duration, eg. 30s, got %q", raw)
		}
		d = time.Duration(secs) * time.Second
	}
	if d < 0 {
		return 0, fmt.Errorf("wait must not be negative, got %q", raw)
	}
	if d > maxWait {
		d = maxWait
	}
	return d, nil
}

func status(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestId := chi.URLParam(r, "requestId")

		wait, err := parseWait(r.URL.Query().Get("wait"))
		if err != nil {
			respond(w, http.StatusBadRequest, errorBody{Error: "Invalid wait", Message: err.Error()})
			return
		}
		if _, err := zid.FromString(requestId); err != nil {
			respond(w, http.StatusNotFound, errorBody{Error: "Email request not found", RequestId: requestId})
			return
		}

		var job bulkbrev.Job
		var ok bool
		if wait > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), wait)
			job, ok = s.jobs.Await(ctx, requestId)
			cancel()
		} else {
			job, ok = s.jobs.Status(requestId)
		}

		if !ok {
			respond(w, http.StatusNotFound, errorBody{Error: "Email request not found", RequestId: requestId})
			return
		}
		respond(w, http.StatusOK, job)
	}
}
