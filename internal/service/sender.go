// internal/service/sender.go
package service

// SendOutcome classifies a provider attempt. The split drives the retry
// decision: retryable outcomes go back to pending, permanent ones dead-letter
// immediately.
type SendOutcome int

const (
    SendOK SendOutcome = iota
    SendRetryable // timeout, rate limit, 5xx: try again later
    SendPermanent // invalid number, blocked recipient: never retry
)

type SendResult struct {
    Outcome           SendOutcome
    ProviderMessageID string
    Err               error
}

// Sender delivers one message. Implementations wrap the messaging provider's
// API and must classify every failure as retryable or permanent.
type Sender interface {
    Send(recipient, body string) SendResult
}

// SendFunc adapts a function to the Sender interface.
type SendFunc func(recipient, body string) SendResult

func (f SendFunc) Send(recipient, body string) SendResult {
    return f(recipient, body)
}

// Alerter notifies the operator out of band. Implementations must never
// block or fail the caller.
type Alerter interface {
    Alert(title, details string)
}
