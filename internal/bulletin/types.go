// Package bulletin assembles comparison and corridor series into
// weekly bulletin payloads and persists generated bulletins. Rendering
// to PDF/HTML is an external collaborator behind the Renderer
// interface; this package only produces and stores the series data.
package bulletin

import (
	"context"
	"time"

	"github.com/episurv-server/internal/domain"
)

// Bulletin is one generated epidemiological bulletin.
type Bulletin struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	EpiYear     int             `json:"anio"`
	EpiWeek     int             `json:"semana"`
	Format      string          `json:"format"`
	GeneratedAt time.Time       `json:"generated_at"`
	Payload     BulletinPayload `json:"payload"`
}

// BulletinPayload is the computed series data a renderer consumes.
type BulletinPayload struct {
	Window      domain.PeriodWindow       `json:"periodo"`
	Comparisons []domain.ComparisonResult `json:"comparaciones"`
	Corridor    *domain.CorridorSeries    `json:"corredor,omitempty"`
}

// Store persists generated bulletins.
type Store interface {
	Save(ctx context.Context, b *Bulletin) error
	Get(ctx context.Context, id int64) (*Bulletin, error)
	ListByYear(ctx context.Context, epiYear int) ([]*Bulletin, error)
	Close() error
}

// Renderer turns a bulletin payload into a rendered document. Server-
// side implementations live outside this module.
type Renderer interface {
	Render(ctx context.Context, b *Bulletin) ([]byte, error)
}
