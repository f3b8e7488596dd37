package kinds

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/starford/othala/internal/issuer"
	"github.com/starford/othala/internal/schema"
)

const InvoiceKind = "howard.invoice"

// Invoice types.
const (
	TypeInvoice    = "invoice"
	TypeCreditNote = "credit_note"
)

type Customer struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type Seller struct {
	Address string `json:"address"`
}

type Product struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Amount is kept exact; total == subtotal + vat_amount is the caller's concern.
type Amount struct {
	Total     decimal.Decimal `json:"total"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	VATAmount decimal.Decimal `json:"vat_amount"`
	VAT       decimal.Decimal `json:"vat"`
	Currency  string          `json:"currency"`
}

type Order struct {
	Customer Customer `json:"customer"`
	Company  string   `json:"company"`
	Product  Product  `json:"product"`
	Amount   Amount   `json:"amount"`
	Seller   Seller   `json:"seller"`
}

type InvoiceMetadata struct {
	Reference string    `json:"reference"`
	IssuedOn  time.Time `json:"issued_on"`
	Type      string    `json:"type"`
}

type InvoiceQuery struct {
	Metadata InvoiceMetadata `json:"metadata"`
	Order    Order           `json:"order"`
}

type InvoiceContext struct {
	Identifier issuer.Identifier `json:"identifier"`
	Metadata   InvoiceMetadata   `json:"metadata"`
	Order      Order             `json:"order"`
}

var (
	invoiceMetadata = schema.NewObject("InvoiceMetadata",
		schema.Required("reference", schema.String(schema.MinLen(1))),
		schema.Required("issued_on", schema.DateTime()),
		schema.Required("type", schema.Enum(TypeInvoice, TypeCreditNote)),
	)
	amount = schema.NewObject("Amount",
		schema.Required("total", schema.Decimal()),
		schema.Required("subtotal", schema.Decimal()),
		schema.Required("vat_amount", schema.Decimal()),
		schema.Required("vat", schema.Decimal()),
		schema.Required("currency", schema.String(schema.MinLen(1))),
	)
	order = schema.NewObject("Order",
		schema.Required("customer", schema.Nested(schema.NewObject("Customer",
			schema.Required("name", schema.String()),
			schema.Required("address", schema.String()),
		))),
		schema.Required("company", schema.String()),
		schema.Required("product", schema.Nested(schema.NewObject("Product",
			schema.Required("name", schema.String()),
			schema.Required("description", schema.String()),
		))),
		schema.Required("amount", schema.Nested(amount)),
		schema.Required("seller", schema.Nested(schema.NewObject("Seller",
			schema.Required("address", schema.String()),
		))),
	)
)

var (
	InvoiceQuerySchema = schema.NewObject("InvoiceQuery",
		schema.Required("metadata", schema.Nested(invoiceMetadata)),
		schema.Required("order", schema.Nested(order)),
	)
	InvoiceContextSchema = schema.StrictObject("InvoiceContext",
		schema.Required("identifier", schema.UUID()),
		schema.Required("metadata", schema.Nested(invoiceMetadata)),
		schema.Required("order", schema.Nested(order)),
	)
)

func Invoice() issuer.Definition {
	return issuer.Definition{
		Kind:          InvoiceKind,
		DisplayName:   "Invoice",
		QuerySchema:   InvoiceQuerySchema,
		ContextSchema: InvoiceContextSchema,
		Deriver:       issuer.Typed(deriveInvoice, describeInvoice),
	}
}

func deriveInvoice(q InvoiceQuery, id issuer.Identifier, _ time.Time) InvoiceContext {
	return InvoiceContext{Identifier: id, Metadata: q.Metadata, Order: q.Order}
}

func describeInvoice(c InvoiceContext) issuer.Metadata {
	return issuer.Metadata{
		Title:       c.Metadata.Type + "-" + c.Metadata.Reference,
		Authors:     []string{c.Order.Company},
		Description: c.Order.Product.Name,
		Keywords:    []string{TypeInvoice, TypeCreditNote},
	}
}
