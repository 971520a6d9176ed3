// Package identity produces deterministic synthetic identities keyed by real
// identifiers. One seeded stream is consumed in sorted identifier order, so the
// same seed and identifier set always yield the same masks.
package identity

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

var (
	// ErrInvalidOptions indicates generator options are out of range
	ErrInvalidOptions = errors.New("invalid identity options")

	// ErrUnknownField indicates a configured extra the generator cannot produce
	ErrUnknownField = errors.New("unknown synthetic field")

	// ErrIdentifierSpaceExhausted indicates a unique field could not avoid collisions
	ErrIdentifierSpaceExhausted = errors.New("unique synthetic value space exhausted")
)

// Default option values.
const (
	DefaultMinAge     = 18
	DefaultMaxAge     = 90
	DefaultMaxRetries = 100
)

// DefaultReferenceDate anchors date-of-birth ranges. It is fixed so re-runs on a
// different day reproduce the same birth dates.
var DefaultReferenceDate = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// Options shapes the synthetic identities.
type Options struct {
	MinAge        int
	MaxAge        int
	ReferenceDate time.Time
	Extras        []string
	MaxRetries    int // Redraw attempts for unique fields
}

// Mask is the synthetic identity substituted for one real identifier.
type Mask struct {
	Identifier string
	Fields     map[string]string
}

// Field returns the synthetic value for name.
func (m *Mask) Field(name string) (string, bool) {
	v, ok := m.Fields[name]
	return v, ok
}

// Masks maps real identifiers to their synthetic identity.
type Masks map[string]*Mask

// Lookup returns the mask for identifier.
func (m Masks) Lookup(identifier string) (*Mask, bool) {
	mask, ok := m[identifier]
	return mask, ok
}

// Sorted returns the masks ordered by identifier.
func (m Masks) Sorted() []*Mask {
	out := make([]*Mask, 0, len(m))
	for _, mask := range m {
		out = append(out, mask)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Generator holds the seeded random stream. It is not safe for concurrent use.
type Generator struct {
	faker  *gofakeit.Faker
	opts   Options
	extras []string
	used   map[string]map[string]bool // unique field → issued values
}

// NewGenerator validates opts and seeds a fresh stream.
func NewGenerator(seed uint64, opts Options) (*Generator, error) {
	if opts.MinAge == 0 && opts.MaxAge == 0 {
		opts.MinAge, opts.MaxAge = DefaultMinAge, DefaultMaxAge
	}
	if opts.MinAge < 0 || opts.MaxAge < opts.MinAge {
		return nil, fmt.Errorf("%w: age range %d-%d", ErrInvalidOptions, opts.MinAge, opts.MaxAge)
	}
	if opts.ReferenceDate.IsZero() {
		opts.ReferenceDate = DefaultReferenceDate
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	wanted := make(map[string]bool, len(opts.Extras))
	for _, e := range opts.Extras {
		if !isExtra(e) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, e)
		}
		wanted[e] = true
	}
	var extras []string
	for _, e := range ExtraFields {
		if wanted[e] {
			extras = append(extras, e)
		}
	}

	return &Generator{
		faker:  gofakeit.NewFaker(rand.NewPCG(seed, seed), false),
		opts:   opts,
		extras: extras,
		used: map[string]map[string]bool{
			FieldPatientID:    {},
			FieldRecordNumber: {},
		},
	}, nil
}

// Generate draws one mask per distinct non-empty identifier. Identifiers are
// deduplicated and sorted first so the result never depends on input order.
func (g *Generator) Generate(identifiers []string) (Masks, error) {
	ids := distinctSorted(identifiers)
	masks := make(Masks, len(ids))
	for _, id := range ids {
		mask, err := g.draw(id)
		if err != nil {
			return nil, fmt.Errorf("identifier #%d: %w", len(masks)+1, err)
		}
		masks[id] = mask
	}
	return masks, nil
}

func (g *Generator) draw(identifier string) (*Mask, error) {
	f := g.faker
	fields := make(map[string]string, len(CoreFields)+len(DerivedFields)+len(g.extras))

	fields[FieldFirstName] = f.FirstName()
	fields[FieldLastName] = f.LastName()
	fields[FieldGender] = f.RandomString(genders)
	fields[FieldDOB] = g.birthDate()
	fields[FieldStreet] = f.Street()
	fields[FieldCity] = f.City()
	fields[FieldState] = f.StateAbr()
	fields[FieldPostalCode] = f.Zip()
	fields[FieldPhone] = f.PhoneFormatted()
	fields[FieldEmail] = strings.ToLower(fields[FieldFirstName]+"."+fields[FieldLastName]) + "@example.com"

	patientID, err := g.unique(FieldPatientID, func() string {
		return strings.ToUpper(f.Lexify("???")) + f.Numerify("####")
	})
	if err != nil {
		return nil, err
	}
	fields[FieldPatientID] = patientID

	recordNumber, err := g.unique(FieldRecordNumber, func() string {
		return f.Numerify("###-####")
	})
	if err != nil {
		return nil, err
	}
	fields[FieldRecordNumber] = recordNumber

	fields[FieldFullName] = fields[FieldFirstName] + " " + fields[FieldLastName]
	fields[FieldAddress] = fmt.Sprintf("%s, %s, %s %s",
		fields[FieldStreet], fields[FieldCity], fields[FieldState], fields[FieldPostalCode])

	for _, extra := range g.extras {
		fields[extra] = g.extra(extra)
	}

	return &Mask{Identifier: identifier, Fields: fields}, nil
}

func (g *Generator) extra(name string) string {
	f := g.faker
	switch name {
	case FieldProviderName:
		return "Dr. " + f.FirstName() + " " + f.LastName()
	case FieldPractitioner:
		return f.FirstName() + " " + f.LastName()
	case FieldFacilityName:
		return f.Company() + " Medical Center"
	case FieldFacilityGUID:
		return f.UUID()
	case FieldAppointmentType:
		return f.RandomString(appointmentTypes)
	case FieldStatus:
		return f.RandomString(appointmentStatuses)
	case FieldDiagnosis:
		return f.RandomString(diagnoses)
	case FieldDrugName:
		return f.RandomString(drugNames)
	case FieldGenericName:
		return f.RandomString(genericNames)
	}
	return ""
}

func (g *Generator) birthDate() string {
	ref := g.opts.ReferenceDate
	start := ref.AddDate(-g.opts.MaxAge, 0, 0)
	end := ref.AddDate(-g.opts.MinAge, 0, 0)
	return g.faker.DateRange(start, end).UTC().Format(time.DateOnly)
}

// unique redraws until next yields a value not issued earlier in this run.
func (g *Generator) unique(field string, next func() string) (string, error) {
	used := g.used[field]
	for attempt := 0; attempt < g.opts.MaxRetries; attempt++ {
		v := next()
		if !used[v] {
			used[v] = true
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s after %d attempts", ErrIdentifierSpaceExhausted, field, g.opts.MaxRetries)
}

func distinctSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
