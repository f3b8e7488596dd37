package kinds

import (
	"time"

	"github.com/starford/othala/internal/issuer"
	"github.com/starford/othala/internal/schema"
)

// DummyKind is a minimal kind used for smoke tests and template development.
const DummyKind = "marion.dummy-document"

type DummyQuery struct {
	Fullname string `json:"fullname"`
}

type DummyContext struct {
	Identifier issuer.Identifier `json:"identifier"`
	Fullname   string            `json:"fullname"`
}

var fullname = schema.String(schema.MinLen(2), schema.MaxLen(255))

var (
	DummyQuerySchema = schema.StrictObject("DummyQuery",
		schema.Required("fullname", fullname),
	)
	DummyContextSchema = schema.StrictObject("DummyContext",
		schema.Required("identifier", schema.UUID()),
		schema.Required("fullname", fullname),
	)
)

func Dummy() issuer.Definition {
	return issuer.Definition{
		Kind:          DummyKind,
		DisplayName:   "Dummy",
		QuerySchema:   DummyQuerySchema,
		ContextSchema: DummyContextSchema,
		Deriver:       issuer.Typed(deriveDummy, describeDummy),
	}
}

func deriveDummy(q DummyQuery, id issuer.Identifier, _ time.Time) DummyContext {
	return DummyContext{Identifier: id, Fullname: q.Fullname}
}

func describeDummy(c DummyContext) issuer.Metadata {
	return issuer.Metadata{
		Title:    "Dummy document " + c.Identifier.String(),
		Keywords: []string{"dummy", "test", "document"},
	}
}
