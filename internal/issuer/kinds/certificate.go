package kinds

import (
	"time"

	"github.com/starford/othala/internal/issuer"
	"github.com/starford/othala/internal/schema"
)

const CertificateKind = "howard.certificate"

// Named is any party identified only by its name.
type Named struct {
	Name string `json:"name"`
}

type CertifyingOrganization struct {
	Name           string `json:"name"`
	Representative string `json:"representative"`
	// Signature and Logo are base64 image data URIs or asset paths.
	Signature string `json:"signature"`
	Logo      string `json:"logo"`
}

type CertificateQuery struct {
	CreationDate *time.Time             `json:"creation_date,omitempty"`
	Student      Named                  `json:"student"`
	Course       Named                  `json:"course"`
	Organization CertifyingOrganization `json:"organization"`
}

type CertificateContext struct {
	Identifier    issuer.Identifier      `json:"identifier"`
	Student       Named                  `json:"student"`
	Organization  CertifyingOrganization `json:"organization"`
	Course        Named                  `json:"course"`
	CreationDate  time.Time              `json:"creation_date"`
	DeliveryStamp time.Time              `json:"delivery_stamp"`
}

const base64ImagePattern = `^data:image/[-+\w.]+;base64,.*$`

// imageRef accepts an inline image or a relative asset path.
func imageRef() *schema.Type {
	return schema.Either(
		schema.String(schema.Matches("base64 image", base64ImagePattern)),
		schema.String(schema.Matches("asset path", `^[^/\\:][^:]*$`)),
	)
}

func named(name string) *schema.Object {
	return schema.NewObject(name, schema.Required("name", schema.String()))
}

var certifyingOrganization = schema.NewObject("CertifyingOrganization",
	schema.Required("name", schema.String()),
	schema.Required("representative", schema.String()),
	schema.Required("signature", imageRef()),
	schema.Required("logo", imageRef()),
)

var (
	CertificateQuerySchema = schema.NewObject("CertificateQuery",
		schema.Optional("creation_date", schema.DateTime()),
		schema.Required("student", schema.Nested(named("Student"))),
		schema.Required("course", schema.Nested(named("Course"))),
		schema.Required("organization", schema.Nested(certifyingOrganization)),
	)
	CertificateContextSchema = schema.NewObject("CertificateContext",
		schema.Required("identifier", schema.UUID()),
		schema.Required("student", schema.Nested(named("Student"))),
		schema.Required("organization", schema.Nested(certifyingOrganization)),
		schema.Required("course", schema.Nested(named("Course"))),
		schema.Required("creation_date", schema.DateTime()),
		schema.Required("delivery_stamp", schema.DateTime()),
	)
)

func Certificate() issuer.Definition {
	return issuer.Definition{
		Kind:          CertificateKind,
		DisplayName:   "Certificate",
		QuerySchema:   CertificateQuerySchema,
		ContextSchema: CertificateContextSchema,
		Deriver:       issuer.Typed(deriveCertificate, describeCertificate),
	}
}

func deriveCertificate(q CertificateQuery, id issuer.Identifier, createdAt time.Time) CertificateContext {
	creation := createdAt
	if q.CreationDate != nil {
		creation = *q.CreationDate
	}
	return CertificateContext{
		Identifier:    id,
		Student:       q.Student,
		Organization:  q.Organization,
		Course:        q.Course,
		CreationDate:  creation,
		DeliveryStamp: createdAt,
	}
}

func describeCertificate(c CertificateContext) issuer.Metadata {
	return issuer.Metadata{
		Authors:     []string{c.Organization.Name},
		Description: c.Course.Name + " certificate for " + c.Student.Name,
		Keywords:    []string{"certificate"},
	}
}
