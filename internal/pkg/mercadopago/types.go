package mercadopago

import (
	"encoding/json"
	"strconv"
)

const (
	StatusApproved         = "approved"
	StatusPending          = "pending"
	StatusInProcess        = "in_process"
	StatusRejected         = "rejected"
	StatusDetailAccredited = "accredited"
)

type Item struct {
	ID         string  `json:"id,omitempty"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id,omitempty"`
}

type Identification struct {
	Type   string `json:"type,omitempty"`
	Number string `json:"number,omitempty"`
}

type Payer struct {
	Email          string          `json:"email"`
	Name           string          `json:"name,omitempty"`
	FirstName      string          `json:"first_name,omitempty"`
	LastName       string          `json:"last_name,omitempty"`
	Identification *Identification `json:"identification,omitempty"`
}

type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type PaymentMethods struct {
	Installments int `json:"installments,omitempty"`
}

// PreferenceRequest is the body of POST /checkout/preferences.
type PreferenceRequest struct {
	Items               []Item          `json:"items"`
	Payer               *Payer          `json:"payer,omitempty"`
	PaymentMethods      *PaymentMethods `json:"payment_methods,omitempty"`
	BackURLs            BackURLs        `json:"back_urls"`
	AutoReturn          string          `json:"auto_return,omitempty"`
	NotificationURL     string          `json:"notification_url,omitempty"`
	StatementDescriptor string          `json:"statement_descriptor,omitempty"`
	ExternalReference   string          `json:"external_reference,omitempty"`
	Metadata            interface{}     `json:"metadata,omitempty"`
}

type Preference struct {
	ID                string `json:"id"`
	InitPoint         string `json:"init_point"`
	SandboxInitPoint  string `json:"sandbox_init_point"`
	ExternalReference string `json:"external_reference"`
}

// PaymentRequest is the body of POST /v1/payments (direct charge).
type PaymentRequest struct {
	TransactionAmount   float64     `json:"transaction_amount"`
	Description         string      `json:"description,omitempty"`
	PaymentMethodID     string      `json:"payment_method_id"`
	Token               string      `json:"token,omitempty"`
	Installments        int         `json:"installments,omitempty"`
	IssuerID            string      `json:"issuer_id,omitempty"`
	Payer               *Payer      `json:"payer,omitempty"`
	ExternalReference   string      `json:"external_reference,omitempty"`
	NotificationURL     string      `json:"notification_url,omitempty"`
	StatementDescriptor string      `json:"statement_descriptor,omitempty"`
	Metadata            interface{} `json:"metadata,omitempty"`
}

type TransactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
}

type PointOfInteraction struct {
	TransactionData *TransactionData `json:"transaction_data,omitempty"`
}

// Payment is the subset of the provider payment resource this service reads.
type Payment struct {
	ID                 int64               `json:"id"`
	Status             string              `json:"status"`
	StatusDetail       string              `json:"status_detail"`
	ExternalReference  string              `json:"external_reference"`
	TransactionAmount  float64             `json:"transaction_amount"`
	CurrencyID         string              `json:"currency_id"`
	PaymentMethodID    string              `json:"payment_method_id"`
	DateCreated        string              `json:"date_created"`
	DateApproved       string              `json:"date_approved"`
	Metadata           json.RawMessage     `json:"metadata,omitempty"`
	Payer              Payer               `json:"payer"`
	PointOfInteraction *PointOfInteraction `json:"point_of_interaction,omitempty"`
}

// IDString returns the numeric payment id as the string used in storage.
func (p *Payment) IDString() string {
	if p.ID == 0 {
		return ""
	}
	return strconv.FormatInt(p.ID, 10)
}

// IsApproved reports the provider's own verdict: approved and accredited.
func (p *Payment) IsApproved() bool {
	return p.Status == StatusApproved && p.StatusDetail == StatusDetailAccredited
}

// PixData returns the QR payload of a PIX payment, or nil.
func (p *Payment) PixData() *TransactionData {
	if p.PointOfInteraction == nil || p.PointOfInteraction.TransactionData == nil {
		return nil
	}
	td := p.PointOfInteraction.TransactionData
	if td.QRCode == "" && td.QRCodeBase64 == "" {
		return nil
	}
	return td
}

type SearchResult struct {
	Results []Payment `json:"results"`
	Paging  struct {
		Total  int `json:"total"`
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	} `json:"paging"`
}
