package stage

// Health reports whether one stage's collaborators are usable: the external
// binaries extract and fingerprint shell out to, the transcription server,
// the model hosts behind enrich and embed. The daemon aggregates these
// records into its health endpoint.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy marks a stage ready.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy marks a stage not ready, with a detail explaining what is
// missing or unreachable.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
