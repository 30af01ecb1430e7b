package model

// Artifact is a named output produced by a Task. Composite types (JSON,
// Segments) may carry nested attachments that are themselves artifacts,
// mirroring how a transcript artifact carries per-segment audio clips.
type Artifact struct {
	AID        string       `json:"aid"`
	Name       string       `json:"name"`
	Type       ArtifactType `json:"type"`
	Path       string       `json:"path,omitempty"`
	IsAttached bool         `json:"is_attached"`
	Attached   []*Artifact  `json:"attached,omitempty"`
}

// Walk invokes fn for the artifact and every nested attachment, depth first.
func (a *Artifact) Walk(fn func(*Artifact)) {
	fn(a)
	for _, child := range a.Attached {
		child.Walk(fn)
	}
}
