package ui

import "embed"

// FS contains the dashboard templates embedded into the vigia binary.
//
// Keeping the embed directive in the same folder as the assets avoids needing
// ".." paths (which go:embed disallows) and ensures the UI works regardless of
// the process working directory.
//
//go:embed index.html partials/*.html
var FS embed.FS
