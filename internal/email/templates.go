package email

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/gitshopapp/grocer/internal/models"
)

const (
	TemplatePaymentInstructions = "payment_instructions"
	TemplateOrderPlaced         = "order_placed"
	TemplateProofReceived       = "proof_received"
)

var jakarta = time.FixedZone("WIB", 7*60*60)

// OrderInfo is the data every order email template renders from.
type OrderInfo struct {
	OrderID       string
	CustomerName  string
	CustomerEmail string
	OrderURL      string
	PaymentMethod string
	Courier       string
	Items         []LineItem
	Subtotal      string
	Discount      string
	Shipping      string
	Total         string
	ExpiresAt     time.Time
}

type LineItem struct {
	Name      string
	Quantity  int
	UnitPrice string
	Subtotal  string
}

// NewOrderInfo builds template data from an order. baseURL is the storefront
// origin used for the order link.
func NewOrderInfo(order *models.Order, buyer models.Profile, baseURL string) *OrderInfo {
	info := &OrderInfo{
		OrderID:       order.ID.String(),
		CustomerName:  firstNonEmpty(buyer.Name, order.Buyer.Name),
		CustomerEmail: firstNonEmpty(buyer.Email, order.Buyer.Email),
		OrderURL:      strings.TrimRight(baseURL, "/") + order.Path(),
		PaymentMethod: string(order.PaymentMethod),
		Subtotal:      FormatRupiah(order.Subtotal),
		Discount:      FormatRupiah(order.Discount),
		Shipping:      FormatRupiah(order.ShipmentCost),
		Total:         FormatRupiah(order.FinalPrice),
	}
	if order.Shipment != nil {
		info.Courier = strings.ToUpper(order.Shipment.Courier) + " " + order.Shipment.Service
	}
	if order.ExpiredAt != nil {
		info.ExpiresAt = *order.ExpiredAt
	}
	for _, item := range order.Items {
		info.Items = append(info.Items, LineItem{
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: FormatRupiah(item.UnitPrice),
			Subtotal:  FormatRupiah(item.Subtotal),
		})
	}
	return info
}

// FormatRupiah renders an amount in whole rupiah, e.g. "Rp 18.000".
func FormatRupiah(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	return sign + "Rp " + b.String()
}

type emailTemplate struct {
	subject string
	html    string
	text    string
}

var emailTemplates = map[string]emailTemplate{
	TemplatePaymentInstructions: {
		subject: "Complete your payment for order #{{.OrderID}}",
		html:    paymentInstructionsHTML,
		text:    paymentInstructionsText,
	},
	TemplateOrderPlaced: {
		subject: "Order #{{.OrderID}} received",
		html:    orderPlacedHTML,
		text:    orderPlacedText,
	},
	TemplateProofReceived: {
		subject: "Payment proof received for order #{{.OrderID}}",
		html:    proofReceivedHTML,
		text:    proofReceivedText,
	},
}

type Renderer struct {
	subjects *texttemplate.Template
	texts    *texttemplate.Template
	htmls    *htmltemplate.Template
}

func NewRenderer() (*Renderer, error) {
	funcs := map[string]any{
		"formatDeadline": func(t time.Time) string {
			return t.In(jakarta).Format("2 January 2006 15:04 MST")
		},
	}

	subjects := texttemplate.New("subjects")
	texts := texttemplate.New("texts").Funcs(funcs)
	htmls := htmltemplate.New("htmls").Funcs(funcs)

	for name, t := range emailTemplates {
		if _, err := subjects.New(name).Parse(t.subject); err != nil {
			return nil, fmt.Errorf("failed to parse subject template %s: %w", name, err)
		}
		if _, err := texts.New(name).Parse(t.text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", name, err)
		}
		if _, err := htmls.New(name).Parse(t.html); err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", name, err)
		}
	}

	return &Renderer{subjects: subjects, texts: texts, htmls: htmls}, nil
}

func (r *Renderer) Render(_ context.Context, name string, data *OrderInfo) (*Email, error) {
	if _, ok := emailTemplates[name]; !ok {
		return nil, fmt.Errorf("unknown email template %q", name)
	}

	var subject, text, html bytes.Buffer
	if err := r.subjects.ExecuteTemplate(&subject, name, data); err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := r.texts.ExecuteTemplate(&text, name, data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}
	if err := r.htmls.ExecuteTemplate(&html, name, data); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}

	return &Email{
		To:      data.CustomerEmail,
		Subject: subject.String(),
		Text:    text.String(),
		HTML:    html.String(),
		Tags: map[string]string{
			"template": name,
			"order_id": data.OrderID,
		},
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

const paymentInstructionsText = `Hi {{.CustomerName}},

Thanks for your order #{{.OrderID}}.

{{range .Items}}- {{.Name}} x{{.Quantity}} @ {{.UnitPrice}} = {{.Subtotal}}
{{end}}
Subtotal: {{.Subtotal}}
Discount: {{.Discount}}
Shipping ({{.Courier}}): {{.Shipping}}
Total: {{.Total}}

Please transfer {{.Total}} and upload your payment proof before {{formatDeadline .ExpiresAt}}.
Orders without a proof by then are cancelled automatically.

Upload your proof: {{.OrderURL}}
`

const paymentInstructionsHTML = `<p>Hi {{.CustomerName}},</p>
<p>Thanks for your order <strong>#{{.OrderID}}</strong>.</p>
<table>
{{range .Items}}<tr><td>{{.Name}}</td><td>x{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Subtotal}}</td></tr>
{{end}}</table>
<p>Subtotal: {{.Subtotal}}<br>Discount: {{.Discount}}<br>Shipping ({{.Courier}}): {{.Shipping}}<br><strong>Total: {{.Total}}</strong></p>
<p>Please transfer <strong>{{.Total}}</strong> and upload your payment proof before <strong>{{formatDeadline .ExpiresAt}}</strong>.
Orders without a proof by then are cancelled automatically.</p>
<p><a href="{{.OrderURL}}">Upload your payment proof</a></p>
`

const orderPlacedText = `Hi {{.CustomerName}},

We received your order #{{.OrderID}} for {{.Total}}.
Once your payment is confirmed we will start packing.

Track your order: {{.OrderURL}}
`

const orderPlacedHTML = `<p>Hi {{.CustomerName}},</p>
<p>We received your order <strong>#{{.OrderID}}</strong> for <strong>{{.Total}}</strong>.
Once your payment is confirmed we will start packing.</p>
<p><a href="{{.OrderURL}}">Track your order</a></p>
`

const proofReceivedText = `Hi {{.CustomerName}},

We received your payment proof for order #{{.OrderID}}. Our team will confirm it shortly.

Order details: {{.OrderURL}}
`

const proofReceivedHTML = `<p>Hi {{.CustomerName}},</p>
<p>We received your payment proof for order <strong>#{{.OrderID}}</strong>. Our team will confirm it shortly.</p>
<p><a href="{{.OrderURL}}">Order details</a></p>
`
