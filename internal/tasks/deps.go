package tasks

import (
	"github.com/jc-comp/karaoke-scheduler/internal/config"
	"go.uber.org/zap"
)

// Deps bundles the configuration and logger every concrete task body
// needs: binary paths, collaborator API config (acoustid/gpt/transcription/
// mfa/export.font, spec.md §6), and the media cache root.
type Deps struct {
	Config    *config.Config
	MediaPath string
	Logger    *zap.Logger
}

func (d *Deps) collaborator(key string) string {
	if d.Config == nil {
		return ""
	}
	return d.Config.Collaborators[key]
}
