// internal/service/safety.go
package service

import (
    "fmt"
    "log"
    "strings"
    "time"

    "github.com/plumbline/leadrelay-backend/internal/cache"
    "github.com/plumbline/leadrelay-backend/internal/security"
)

// Denial codes. Callers branch on Code, never on the free-text Reason.
const (
    DenyNoConsent  = "no_consent"
    DenyOptedOut   = "unsubscribed"
    DenyDuplicate  = "duplicate"
    DenyQuietHours = "quiet_hours"
    DenyAIDisabled = "ai_disabled"
)

type Decision struct {
    Allowed bool
    Code    string
    Reason  string
}

// SafetyGate decides whether one outbound message may be sent. Every message
// passes through it before enqueue and again before each send attempt.
type SafetyGate interface {
    CheckSendSafety(recipient, body, externalKey, tenantID string, isInternal bool) Decision
}

// Gate runs the checks in a fixed order: consent, opt-out, duplicate key,
// tenant gates (AI flag, quiet hours). The first failure wins. Storage errors
// on individual checks are logged and the check is skipped, except opt-out
// results already cached, which always deny.
type Gate struct {
    Consents ConsentStore
    Leads    LeadStore
    Jobs     JobStore
    Tenants  TenantStore

    // OptOutCache shadows the leads table for known-blocked numbers.
    OptOutCache *cache.LRU

    // Now is swappable for tests; defaults to time.Now.
    Now func() time.Time
}

func (g *Gate) now() time.Time {
    if g.Now != nil {
        return g.Now()
    }
    return time.Now()
}

func (g *Gate) CheckSendSafety(recipient, body, externalKey, tenantID string, isInternal bool) Decision {
    masked := security.MaskPhone(recipient)
    bodyLower := strings.ToLower(body)
    // the mandated unsubscribe acknowledgement is the one message that must
    // go out to a number that just revoked everything else
    isOptOutAck := !isInternal && body == optOutConfirmation

    // 1. consent
    var proof string
    switch {
    case isInternal:
        proof = "internal alert"
    case isOptOutAck:
        proof = "opt-out acknowledgement"
    default:
        consent, err := g.Consents.VerifyValid(recipient, tenantID)
        if err != nil {
            log.Printf("⚠️ consent lookup failed for %s: %v", masked, err)
        }
        // A reply to a contact the customer just initiated carries its own
        // implied consent even before the record lands.
        isInboundReply := strings.Contains(bodyLower, "missed call") ||
            strings.Contains(bodyLower, "assistant")
        switch {
        case consent != nil:
            proof = fmt.Sprintf("consent %s via %s at %s",
                consent.Type, consent.Source, consent.ConsentedAt.Format(time.RFC3339))
        case isInboundReply:
            proof = "implied consent (reply to inbound contact)"
        default:
            return g.deny(DenyNoConsent, masked, "no valid consent on file")
        }
    }

    // 2. opt-out, cache first
    if !isOptOutAck {
        if g.OptOutCache != nil {
            if _, hit := g.OptOutCache.Get(recipient); hit {
                return g.deny(DenyOptedOut, masked, "recipient unsubscribed (cached)")
            }
        }
        blocked, err := g.Leads.IsOptedOut(recipient)
        if err != nil {
            log.Printf("⚠️ opt-out lookup failed for %s: %v", masked, err)
        }
        if blocked {
            if g.OptOutCache != nil {
                g.OptOutCache.Add(recipient, "blocked")
            }
            return g.deny(DenyOptedOut, masked, "recipient unsubscribed")
        }
    }

    // 3. duplicate external key
    if externalKey != "" {
        exists, err := g.Jobs.ExternalKeyExists(externalKey)
        if err != nil {
            log.Printf("⚠️ duplicate check failed for key %s: %v", externalKey, err)
        }
        if exists {
            return g.deny(DenyDuplicate, masked, fmt.Sprintf("external key %s already enqueued", externalKey))
        }
    }

    // 4. tenant gates; the acknowledgement goes out at any hour
    if !isInternal && !isOptOutAck && tenantID != "" {
        if d, denied := g.checkTenant(tenantID, bodyLower, masked); denied {
            return d
        }
    }

    log.Printf("✅ safety checks passed for %s (%s)", masked, proof)
    return Decision{Allowed: true, Reason: proof}
}

func (g *Gate) checkTenant(tenantID, bodyLower, masked string) (Decision, bool) {
    tenant, err := g.Tenants.GetByID(tenantID)
    if err != nil {
        log.Printf("⚠️ tenant lookup failed for %s: %v", tenantID, err)
        return Decision{}, false
    }
    if tenant == nil {
        return Decision{}, false
    }

    isEmergency := strings.Contains(bodyLower, "emergency") || strings.Contains(bodyLower, "urgent")

    if !tenant.AIEnabled && !isEmergency {
        return g.deny(DenyAIDisabled, masked, fmt.Sprintf("automated sends disabled for tenant %s", tenantID)), true
    }

    loc, err := time.LoadLocation(tenant.Timezone)
    if err != nil {
        log.Printf("⚠️ bad timezone %q for tenant %s: %v", tenant.Timezone, tenantID, err)
        return Decision{}, false
    }
    hour := g.now().In(loc).Hour()
    if (hour < tenant.BusinessHoursStart || hour >= tenant.BusinessHoursEnd) && !isEmergency {
        return g.deny(DenyQuietHours, masked, fmt.Sprintf(
            "outside send window %d:00-%d:00 %s", tenant.BusinessHoursStart, tenant.BusinessHoursEnd, tenant.Timezone)), true
    }
    return Decision{}, false
}

func (g *Gate) deny(code, masked, reason string) Decision {
    log.Printf("🚫 send blocked for %s: %s (%s)", masked, reason, code)
    return Decision{Allowed: false, Code: code, Reason: reason}
}
