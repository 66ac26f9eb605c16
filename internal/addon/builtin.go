package addon

import "github.com/mattjoyce/akl/internal/storage"

// Builtins are the addons compiled into the core. Discovery always reports
// them.
func Builtins() []*Candidate {
	return []*Candidate{
		{
			Manifest: Manifest{
				ID:          DirectLauncherID,
				Name:        "Direct launcher",
				Version:     "1.0.0",
				Kind:        storage.KindLauncher,
				Runtime:     storage.RuntimeBuiltin,
				Description: "Starts a configured application with the ROM file as argument.",
			},
			Fingerprint: "builtin",
		},
	}
}
