package server

import "github.com/loqalabs/loqa-wyoming/internal/wyoming"

// info describes the TTS program. Voices are listed only while the backend
// is ready.
func (s *Server) info() wyoming.Info {
	attribution := wyoming.Attribution{Name: s.program.AttributionName, URL: s.program.AttributionURL}
	voices := []wyoming.TTSVoice{}
	if s.backend.Ready() {
		for _, v := range s.backend.Voices() {
			languages := v.Languages
			if languages == nil {
				languages = []string{}
			}
			voices = append(voices, wyoming.TTSVoice{
				Name:        v.Name,
				Description: v.Description,
				Attribution: attribution,
				Installed:   true,
				Version:     v.Version,
				Languages:   languages,
			})
		}
	}
	return wyoming.NewInfo(wyoming.TTSProgram{
		Name:        s.program.Name,
		Description: s.program.Description,
		Attribution: attribution,
		Installed:   true,
		Version:     s.program.Version,
		Voices:      voices,
	})
}
