package canopy

// Version is the release version, set at build time with
// -ldflags "-X github.com/aretw0/canopy.Version=...".
var Version = "dev"
