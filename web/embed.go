package web

import "embed"

// Content holds the embedded control page.
//
//go:embed index.html
var Content embed.FS
