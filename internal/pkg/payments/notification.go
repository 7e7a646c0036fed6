package payments

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

// Notification is one decoded inbound provider notification. Each payload
// version has its own type; anything else decodes to UnknownNotification.
type Notification interface {
	Kind() string
}

// WebhookV2 is the current shape: {"type":"payment","action":"payment.updated","data":{"id":"123"}}
// with data.id and type also repeated in the query string.
type WebhookV2 struct {
	Type     string
	Action   string
	DataID   string
	LiveMode bool
}

// FeedNotification is the older IPN shape: ?topic=payment&id=123, or a body
// carrying {"topic":"payment","resource":".../v1/payments/123"}.
type FeedNotification struct {
	Topic      string
	ResourceID string
}

// Even3Sale is the legacy Even3 sale event; the payer is identified by email only.
type Even3Sale struct {
	Action string
	Email  string
}

// Even3Registration is a legacy Even3 attendee event. It is logged only.
type Even3Registration struct {
	Action string
}

type UnknownNotification struct {
	Reason string
}

func (WebhookV2) Kind() string           { return "webhook_v2" }
func (FeedNotification) Kind() string    { return "feed" }
func (Even3Sale) Kind() string           { return "even3_sale" }
func (Even3Registration) Kind() string   { return "even3_registration" }
func (UnknownNotification) Kind() string { return "unknown" }

// PaymentID returns the provider payment id for payment-class notifications.
func PaymentID(n Notification) (string, bool) {
	switch v := n.(type) {
	case WebhookV2:
		if v.DataID != "" && (v.Type == "payment" || strings.HasPrefix(v.Action, "payment.")) {
			return v.DataID, true
		}
	case FeedNotification:
		if v.ResourceID != "" && v.Topic == "payment" {
			return v.ResourceID, true
		}
	}
	return "", false
}

// Action names the notification for the audit log.
func Action(n Notification) string {
	switch v := n.(type) {
	case WebhookV2:
		if v.Action != "" {
			return v.Action
		}
		return v.Type
	case FeedNotification:
		return v.Topic
	case Even3Sale:
		return v.Action
	case Even3Registration:
		return v.Action
	}
	return "unknown"
}

// flexID accepts ids sent either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type webhookV2Body struct {
	Type     string `json:"type"`
	Action   string `json:"action"`
	LiveMode bool   `json:"live_mode"`
	Data     *struct {
		ID flexID `json:"id"`
	} `json:"data"`
}

type feedBody struct {
	Topic    string `json:"topic"`
	Resource string `json:"resource"`
	ID       flexID `json:"id"`
}

// DecodeMercadoPago picks the payload version from its distinguishing
// fields and decodes it with that version's typed decoder.
func DecodeMercadoPago(body []byte, query url.Values) Notification {
	var v2 webhookV2Body
	bodyOK := len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &v2) == nil

	if bodyOK && v2.Data != nil && v2.Data.ID != "" {
		return WebhookV2{
			Type:     firstNonEmpty(v2.Type, query.Get("type")),
			Action:   v2.Action,
			DataID:   string(v2.Data.ID),
			LiveMode: v2.LiveMode,
		}
	}
	if id := strings.TrimSpace(query.Get("data.id")); id != "" {
		return WebhookV2{Type: query.Get("type"), Action: v2.Action, DataID: id}
	}

	var feed feedBody
	if len(bytes.TrimSpace(body)) > 0 {
		_ = json.Unmarshal(body, &feed)
	}
	topic := firstNonEmpty(query.Get("topic"), feed.Topic, query.Get("type"))
	if topic != "" {
		id := firstNonEmpty(query.Get("id"), resourceID(feed.Resource), string(feed.ID))
		if id != "" {
			return FeedNotification{Topic: topic, ResourceID: id}
		}
		return UnknownNotification{Reason: "feed notification without resource id"}
	}

	if !bodyOK && len(bytes.TrimSpace(body)) > 0 {
		return UnknownNotification{Reason: "body is not valid JSON"}
	}
	return UnknownNotification{Reason: "no data.id, topic or resource"}
}

// resourceID extracts the trailing id of a resource URL or returns the value
// itself when it is already a bare id.
func resourceID(resource string) string {
	r := strings.TrimRight(strings.TrimSpace(resource), "/")
	if r == "" {
		return ""
	}
	if i := strings.LastIndex(r, "/"); i >= 0 {
		r = r[i+1:]
	}
	if i := strings.IndexByte(r, '?'); i >= 0 {
		r = r[:i]
	}
	return r
}

type even3Body struct {
	Action string `json:"action"`
	Data   struct {
		BuyerEmail string `json:"buyer_email"`
		Email      string `json:"email"`
	} `json:"data"`
}

// DecodeEven3 decodes the legacy Even3 webhook.
func DecodeEven3(body []byte) Notification {
	var b even3Body
	if err := json.Unmarshal(body, &b); err != nil {
		return UnknownNotification{Reason: "body is not valid JSON"}
	}
	action := strings.ToLower(strings.TrimSpace(b.Action))
	switch action {
	case "venda", "sale":
		email := firstNonEmpty(b.Data.BuyerEmail, b.Data.Email)
		if email == "" {
			return UnknownNotification{Reason: "sale without buyer email"}
		}
		return Even3Sale{Action: action, Email: strings.ToLower(email)}
	case "inscricao", "registration":
		return Even3Registration{Action: action}
	}
	return UnknownNotification{Reason: "unsupported even3 action " + action}
}
