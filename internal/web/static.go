package web

import (
	"embed"
)

// staticFiles holds the results page served at /.
//
//go:embed static/*
var staticFiles embed.FS
