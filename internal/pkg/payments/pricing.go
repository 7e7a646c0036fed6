package payments

import (
	"github.com/technovacao/registration/internal/pkg/config"
)

const (
	ItemTypeMember = "participant"
	ItemTypeRobot  = "robot"
)

// Selected is a member or robot picked for checkout.
type Selected struct {
	ID     string
	Name   string
	Email  string
	IsPaid bool
}

type LineItem struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Quote is a priced order. Amounts are kept in cents and only turned into
// decimals at the edges.
type Quote struct {
	Items      []LineItem `json:"items"`
	TotalCents int64      `json:"-"`
	Currency   string     `json:"currency"`
}

func (q Quote) Total() float64 {
	return config.FormatCents(q.TotalCents)
}

// PriceOrder builds one line item per member and per robot.
func PriceOrder(p config.Pricing, members, robots []Selected) Quote {
	q := Quote{Currency: p.Currency, Items: make([]LineItem, 0, len(members)+len(robots))}
	for _, m := range members {
		q.Items = append(q.Items, LineItem{
			ID:        m.ID,
			Type:      ItemTypeMember,
			Title:     "Inscrição de participante - " + m.Name,
			Quantity:  1,
			UnitPrice: config.FormatCents(p.MemberCents),
		})
		q.TotalCents += p.MemberCents
	}
	for _, r := range robots {
		q.Items = append(q.Items, LineItem{
			ID:        r.ID,
			Type:      ItemTypeRobot,
			Title:     "Inscrição de robô - " + r.Name,
			Quantity:  1,
			UnitPrice: config.FormatCents(p.RobotCents),
		})
		q.TotalCents += p.RobotCents
	}
	return q
}
