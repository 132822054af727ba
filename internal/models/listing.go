package models

import (
	"strings"
	"time"

	"github.com/grasshoppersolutions/convocatorias/internal/apperror"
)

const (
	EstadoAbierta = "abierta"
	EstadoCerrada = "cerrada"

	dateLayout = "2006-01-02"
)

// Listing is a single convocatoria as produced by the extraction stage.
// Nullable fields are pointers so that an explicit JSON null survives a merge.
type Listing struct {
	Titulo           string  `json:"titulo"           firestore:"titulo"`
	Entidad          string  `json:"entidad"          firestore:"entidad"`
	Descripcion      string  `json:"descripcion"      firestore:"descripcion"`
	FechaCierre      *string `json:"fechaCierre"      firestore:"fechaCierre"`
	FechaPublicacion *string `json:"fechaPublicacion" firestore:"fechaPublicacion"`
	Enlace           *string `json:"enlace"           firestore:"enlace"`
	Monto            *string `json:"monto"            firestore:"monto"`
	Requisitos       *string `json:"requisitos"       firestore:"requisitos"`
	Estado           string  `json:"estado"           firestore:"estado"`
	Categoria        string  `json:"categoria"        firestore:"categoria"`
	Fuente           string  `json:"fuente"           firestore:"fuente"`
}

// StoredListing is the Firestore document for a Listing.
type StoredListing struct {
	Listing
	ID        string    `json:"id"                 firestore:"-"`
	DedupKey  string    `json:"dedupKey,omitempty" firestore:"dedupKey,omitempty"`
	CreatedAt time.Time `json:"createdAt"          firestore:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"          firestore:"updatedAt"`
}

// Normalize trims identity fields, applies the estado default and checks the
// date formats. It is applied to every record before any storage call.
func (l *Listing) Normalize() error {
	l.Titulo = strings.TrimSpace(l.Titulo)
	l.Enlace = trimOrNil(l.Enlace)
	l.FechaCierre = trimOrNil(l.FechaCierre)
	l.FechaPublicacion = trimOrNil(l.FechaPublicacion)

	switch estado := strings.ToLower(strings.TrimSpace(l.Estado)); estado {
	case "", "vigente":
		l.Estado = EstadoAbierta
	case EstadoAbierta, EstadoCerrada:
		l.Estado = estado
	default:
		return apperror.Validationf("invalid estado %q for listing %q (expected abierta or cerrada)", l.Estado, l.Titulo)
	}

	for name, v := range map[string]*string{"fechaCierre": l.FechaCierre, "fechaPublicacion": l.FechaPublicacion} {
		if v == nil {
			continue
		}
		if _, err := time.Parse(dateLayout, *v); err != nil {
			return apperror.Validationf("invalid %s %q for listing %q (expected YYYY-MM-DD)", name, *v, l.Titulo)
		}
	}
	return nil
}

// Fields returns every business field keyed by its document field name.
// Null values are kept so a merge overwrites stale data.
func (l Listing) Fields() map[string]interface{} {
	return map[string]interface{}{
		"titulo":           l.Titulo,
		"entidad":          l.Entidad,
		"descripcion":      l.Descripcion,
		"fechaCierre":      deref(l.FechaCierre),
		"fechaPublicacion": deref(l.FechaPublicacion),
		"enlace":           deref(l.Enlace),
		"monto":            deref(l.Monto),
		"requisitos":       deref(l.Requisitos),
		"estado":           l.Estado,
		"categoria":        l.Categoria,
		"fuente":           l.Fuente,
	}
}

func trimOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	return &v
}

func deref(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
