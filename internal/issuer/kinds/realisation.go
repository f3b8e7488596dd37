package kinds

import (
	"time"

	"github.com/starford/othala/internal/issuer"
	"github.com/starford/othala/internal/schema"
)

const RealisationKind = "howard.realisation-certificate"

// Certificate scopes.
const (
	ScopeFormation     = "action de formation"
	ScopeBilan         = "bilan de compétences"
	ScopeVAE           = "action de VAE"
	ScopeApprentissage = "action de formation par apprentissage"
)

const shortDateLayout = "02/01/2006"

// Person is either a student (gender and organization) or a manager (position).
type Person struct {
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Gender       string            `json:"gender,omitempty"`
	Organization *TrainingProvider `json:"organization,omitempty"`
	Position     string            `json:"position,omitempty"`
}

type TrainingProvider struct {
	Name     string  `json:"name"`
	Manager  *Person `json:"manager,omitempty"`
	Location string  `json:"location,omitempty"`
}

type DateSpan struct {
	From schema.CivilDate `json:"from"`
	To   schema.CivilDate `json:"to"`
}

type Session struct {
	Date     DateSpan `json:"date"`
	Duration int      `json:"duration"`
	Scope    string   `json:"scope"`
	Manager  Person   `json:"manager"`
}

type Course struct {
	Name         string           `json:"name"`
	Session      Session          `json:"session"`
	Organization TrainingProvider `json:"organization"`
}

type RealisationQuery struct {
	Student Person `json:"student"`
	Course  Course `json:"course"`
}

type RealisationContext struct {
	Identifier    issuer.Identifier `json:"identifier"`
	Student       Person            `json:"student"`
	Course        Course            `json:"course"`
	CreationDate  string            `json:"creation_date"`
	DeliveryStamp time.Time         `json:"delivery_stamp"`
}

var realisationPerson, realisationCourse = realisationTypes()

// realisationTypes builds the person and course types together since a
// person's organization may itself name a manager person.
func realisationTypes() (person, course *schema.Type) {
	person = schema.OneOf()
	provider := schema.NewObject("Organization",
		schema.Required("name", schema.String()),
		schema.Optional("manager", person),
		schema.Optional("location", schema.String()),
	)
	names := []schema.Field{
		schema.Required("first_name", schema.String()),
		schema.Required("last_name", schema.String()),
	}
	student := schema.NewObject("Student", names...).Extend("Student",
		schema.Required("gender", schema.Enum("Mme", "Mr")),
		schema.Required("organization", schema.Nested(provider)),
	)
	manager := schema.NewObject("Manager", names...).Extend("Manager",
		schema.Required("position", schema.String()),
	)
	person.Variants = []*schema.Object{student, manager}

	session := schema.StrictObject("Session",
		schema.Required("date", schema.Nested(schema.NewObject("DateSpan",
			schema.Required("from", schema.FlexibleDate()),
			schema.Required("to", schema.FlexibleDate()),
		))),
		schema.Required("duration", schema.Integer(schema.AtLeast(1))),
		schema.Required("scope", schema.Enum(ScopeFormation, ScopeBilan, ScopeVAE, ScopeApprentissage)),
		schema.Required("manager", person),
	)
	course = schema.Nested(schema.NewObject("Course",
		schema.Required("name", schema.String()),
		schema.Required("session", schema.Nested(session)),
		schema.Required("organization", schema.Nested(provider)),
	))
	return person, course
}

var (
	RealisationQuerySchema = schema.StrictObject("RealisationQuery",
		schema.Required("student", realisationPerson),
		schema.Required("course", realisationCourse),
	)
	RealisationContextSchema = schema.StrictObject("RealisationContext",
		schema.Required("identifier", schema.UUID()),
		schema.Required("student", realisationPerson),
		schema.Required("course", realisationCourse),
		schema.Required("creation_date", schema.String(schema.Matches("dd/mm/yyyy", `^\d{2}/\d{2}/\d{4}$`))),
		schema.Required("delivery_stamp", schema.DateTime()),
	)
)

func Realisation() issuer.Definition {
	return issuer.Definition{
		Kind:          RealisationKind,
		DisplayName:   "Realisation",
		QuerySchema:   RealisationQuerySchema,
		ContextSchema: RealisationContextSchema,
		Deriver:       issuer.Typed(deriveRealisation, describeRealisation),
	}
}

func deriveRealisation(q RealisationQuery, id issuer.Identifier, createdAt time.Time) RealisationContext {
	return RealisationContext{
		Identifier:    id,
		Student:       q.Student,
		Course:        q.Course,
		CreationDate:  createdAt.Format(shortDateLayout),
		DeliveryStamp: createdAt,
	}
}

func describeRealisation(c RealisationContext) issuer.Metadata {
	return issuer.Metadata{
		Title:       "Certificat de réalisation des actions de formation",
		Authors:     []string{c.Course.Organization.Name},
		Description: c.Course.Name,
		Keywords:    []string{"certificat", "réalisation", "formation"},
	}
}
