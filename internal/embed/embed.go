package embed

import "embed"

const (
	ConfigTemplateYAML = "templates/rewind.yaml"
	ConfigTemplateTOML = "templates/rewind.toml"
	ConfigTemplateJSON = "templates/rewind.json"
)

//go:embed templates/*
var TemplatesFS embed.FS
