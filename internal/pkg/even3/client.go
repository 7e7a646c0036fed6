package even3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/technovacao/registration/internal/pkg/config"
)

var ErrNotConfigured = errors.New("EVEN3_TOKEN is not configured")

// Sale is one entry of the event payment listing.
type Sale struct {
	ID         json.Number `json:"id"`
	Email      string      `json:"email"`
	BuyerEmail string      `json:"buyer_email"`
	Status     string      `json:"status"`
	Value      float64     `json:"value"`
}

// PayerEmail returns the normalized buyer address.
func (s Sale) PayerEmail() string {
	e := s.BuyerEmail
	if e == "" {
		e = s.Email
	}
	return strings.ToLower(strings.TrimSpace(e))
}

// IsPaid reports whether the sale status counts as settled.
func (s Sale) IsPaid() bool {
	switch strings.ToLower(strings.TrimSpace(s.Status)) {
	case "paid", "pago", "approved", "aprovado", "confirmed", "confirmado":
		return true
	}
	return false
}

type Client struct {
	Token      string
	APIBaseURL string
	HTTPClient *http.Client
}

func NewClient(cfg config.Even3) *Client {
	return &Client{
		Token:      cfg.Token,
		APIBaseURL: cfg.APIBaseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ListPayments fetches the event's payment listing. The endpoint answers
// either a bare array or an object with a data array.
func (c *Client) ListPayments(ctx context.Context) ([]Sale, error) {
	token := strings.TrimSpace(c.Token)
	if token == "" {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.APIBaseURL, "/")+"/payments", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization-Token", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("even3 payments request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var sales []Sale
		if err := json.Unmarshal(trimmed, &sales); err != nil {
			return nil, err
		}
		return sales, nil
	}
	var wrapped struct {
		Data []Sale `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Data, nil
}

// HasPaidSale reports whether the listing holds a settled sale for email.
func (c *Client) HasPaidSale(ctx context.Context, email string) (bool, error) {
	want := strings.ToLower(strings.TrimSpace(email))
	if want == "" {
		return false, nil
	}
	sales, err := c.ListPayments(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range sales {
		if s.PayerEmail() == want && s.IsPaid() {
			return true, nil
		}
	}
	return false, nil
}
