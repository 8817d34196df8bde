package configs

import "embed"

// RoleDefaults contains the shipped role profiles.
//
//go:embed roles/*.yaml
var RoleDefaults embed.FS
