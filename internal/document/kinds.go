package document

import "github.com/starford/othala/internal/schema"

// KindInfo describes an issuable kind and the fields its query accepts.
type KindInfo struct {
	Kind        string            `json:"kind"`
	ShortName   string            `json:"short_name"`
	DisplayName string            `json:"display_name"`
	Query       []schema.FieldDoc `json:"query"`
}

// Kinds lists every issuable kind ordered by qualified name.
func (s *Service) Kinds() []KindInfo {
	defs := s.registry.Kinds()
	out := make([]KindInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, KindInfo{
			Kind:        d.Kind,
			ShortName:   d.ShortName(),
			DisplayName: d.DisplayName,
			Query:       d.QuerySchema.Docs(),
		})
	}
	return out
}
