// internal/controller/webhook_controller.go
package controller

import (
    "encoding/json"
    "log"
    "net/http"

    "github.com/go-chi/chi/v5"

    "github.com/plumbline/leadrelay-backend/internal/model"
    "github.com/plumbline/leadrelay-backend/internal/security"
    "github.com/plumbline/leadrelay-backend/internal/service"
)

// InboundHandler is implemented by service.Intake.
type InboundHandler interface {
    HandleInbound(ev service.InboundEvent) error
}

// WebhookController receives provider callbacks. It validates the form,
// hands the event to intake and always answers 2xx for well-formed input:
// intake failures are absorbed internally, a 5xx would only make the
// provider redeliver what we already recorded.
type WebhookController struct {
    Intake InboundHandler
}

func (c *WebhookController) HandleSMS(w http.ResponseWriter, r *http.Request) {
    if err := r.ParseForm(); err != nil {
        http.Error(w, "invalid form", http.StatusBadRequest)
        return
    }

    ev := service.InboundEvent{
        ProviderID: r.FormValue("MessageSid"),
        Type:       "sms",
        To:         r.FormValue("To"),
        From:       r.FormValue("From"),
        Body:       r.FormValue("Body"),
    }
    if ev.ProviderID == "" || ev.From == "" || ev.To == "" {
        http.Error(w, "missing required fields", http.StatusBadRequest)
        return
    }
    if len(ev.Body) > 4096 {
        http.Error(w, "body too large", http.StatusBadRequest)
        return
    }

    log.Printf("📥 inbound sms %s from %s", ev.ProviderID, security.MaskPhone(ev.From))
    if err := c.Intake.HandleInbound(ev); err != nil {
        http.Error(w, err.Error(), http.StatusBadRequest)
        return
    }
    w.WriteHeader(http.StatusNoContent)
}

func (c *WebhookController) HandleVoice(w http.ResponseWriter, r *http.Request) {
    if err := r.ParseForm(); err != nil {
        http.Error(w, "invalid form", http.StatusBadRequest)
        return
    }

    ev := service.InboundEvent{
        ProviderID: r.FormValue("CallSid"),
        Type:       "voice",
        To:         r.FormValue("To"),
        From:       r.FormValue("From"),
    }
    if ev.ProviderID == "" || ev.From == "" || ev.To == "" {
        http.Error(w, "missing required fields", http.StatusBadRequest)
        return
    }

    log.Printf("📥 inbound call %s from %s", ev.ProviderID, security.MaskPhone(ev.From))
    if err := c.Intake.HandleInbound(ev); err != nil {
        http.Error(w, err.Error(), http.StatusBadRequest)
        return
    }

    // hang up politely; the text follow-up is already queued
    w.Header().Set("Content-Type", "text/xml")
    w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Response><Reject reason="busy"/></Response>`))
}

// JobController exposes read-only job lookups for operators.
type JobController struct {
    Jobs interface {
        GetByID(id string) (*model.Job, error)
    }
}

func (c *JobController) GetJob(w http.ResponseWriter, r *http.Request) {
    job, err := c.Jobs.GetByID(chi.URLParam(r, "id"))
    if err != nil {
        http.Error(w, err.Error(), http.StatusInternalServerError)
        return
    }
    if job == nil {
        http.Error(w, "job not found", http.StatusNotFound)
        return
    }
    json.NewEncoder(w).Encode(job)
}
