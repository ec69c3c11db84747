// Package external declares the collaborators the Command Surface leans on
// but does not own: the GUI's settings persistence, its project registry,
// and the out-of-scope skill/sidecar/translation subsystems. None of
// these are implemented here beyond the in-memory fakes tests use to
// stand in for the real GUI-side services.
package external

import "github.com/cc-spec/agentsup/internal/config"

// SettingsStore backs get_settings/set_settings. config.Manager satisfies
// this directly; a GUI-side implementation would proxy ui_theme,
// ui_language and translation_cache_enabled to its own storage while still
// round-tripping the supervisor-owned fields.
type SettingsStore interface {
	Get() config.Settings
	Set(config.Settings) error
}

// ProjectRegistry resolves a project root to whatever registration
// metadata the GUI keeps. The Command Surface only calls IsRegistered, as
// one of two launch_peer_terminal preconditions (the other being the
// on-disk init sentinel checked directly via config.InitStatusPath).
type ProjectRegistry interface {
	IsRegistered(projectRoot string) bool
}

// SkillScanner, SidecarRunner and TranslationManager are named
// collaborators with no calls originating from this module; they exist
// here only so the dependency is documented, not because anything in
// this module invokes them.
type SkillScanner interface{}
type SidecarRunner interface{}
type TranslationManager interface{}
