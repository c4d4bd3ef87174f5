// Package i18n renders the user-facing messages in the subject's language.
package i18n

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	DeathCount         = "DeathCount"
	YourDeaths         = "YourDeaths"
	NoDeaths           = "NoDeaths"
	TopDeaths          = "TopDeaths"
	TopDeathsEntry     = "TopDeathsEntry"
	UnknownPlayer      = "UnknownPlayer"
	PanelShown         = "PanelShown"
	PanelHidden        = "PanelHidden"
	DeathsReset        = "DeathsReset"
	DeathsResetTarget  = "DeathsResetTarget"
	PlayerNotFound     = "PlayerNotFound"
	NoPermission       = "NoPermission"
	AllDeathsReset     = "AllDeathsReset"
	ConfigReloaded     = "ConfigReloaded"
	ConfigReloadFailed = "ConfigReloadFailed"
	AvailableCommands  = "AvailableCommands"
	CmdDeaths          = "CmdDeaths"
	CmdDeathsTop       = "CmdDeathsTop"
	CmdPanelShow       = "CmdPanelShow"
	CmdPanelHide       = "CmdPanelHide"
	CmdPanelReset      = "CmdPanelReset"
	CmdPanelResetSelf  = "CmdPanelResetSelf"
	UnknownCommand     = "UnknownCommand"
	InfoPanelNotLoaded = "InfoPanelNotLoaded"
	StatusHeader       = "StatusHeader"
	StatusVersion      = "StatusVersion"
	StatusProvider     = "StatusProvider"
	StatusTracked      = "StatusTracked"
	StatusTotal        = "StatusTotal"
	StatusActive       = "StatusActive"
	StatusInterval     = "StatusInterval"
	StatusDebug        = "StatusDebug"
	StatusProcess      = "StatusProcess"
	Loaded             = "Loaded"
	NotFound           = "NotFound"
	Enabled            = "Enabled"
	Disabled           = "Disabled"
)

var english = map[string]string{
	DeathCount:         "Deaths: %d",
	YourDeaths:         "You have died %d times.",
	NoDeaths:           "No deaths recorded yet.",
	TopDeaths:          "Top 5 deaths:",
	TopDeathsEntry:     "%d. %s: %d deaths",
	UnknownPlayer:      "Unknown",
	PanelShown:         "Death counter panel is now shown.",
	PanelHidden:        "Death counter panel is now hidden.",
	DeathsReset:        "Your deaths have been reset.",
	DeathsResetTarget:  "Deaths for %s have been reset.",
	PlayerNotFound:     "Player not found.",
	NoPermission:       "You do not have permission to use this command.",
	AllDeathsReset:     "All death counts reset. Affected %d players.",
	ConfigReloaded:     "DeathCounter configuration reloaded.",
	ConfigReloadFailed: "DeathCounter configuration reloaded with errors: %s",
	AvailableCommands:  "Available commands:",
	CmdDeaths:          "/deaths - Show your own deaths",
	CmdDeathsTop:       "/deaths-top - Show the 5 players with the most deaths",
	CmdPanelShow:       "/panel show - Show the death counter panel",
	CmdPanelHide:       "/panel hide - Hide the death counter panel",
	CmdPanelReset:      "/panel reset <player> - Reset another player's deaths (admin)",
	CmdPanelResetSelf:  "/panel reset - Reset your own deaths",
	UnknownCommand:     "Unknown command. Use /panel for help.",
	InfoPanelNotLoaded: "The panel provider is not loaded or not available.",
	StatusHeader:       "=== DeathCounter Status ===",
	StatusVersion:      "Version: %s",
	StatusProvider:     "Panel provider: %s",
	StatusTracked:      "Total players tracked: %d",
	StatusTotal:        "Total deaths recorded: %d",
	StatusActive:       "Active players online: %d",
	StatusInterval:     "Update interval: %ds",
	StatusDebug:        "Debug mode: %s",
	StatusProcess:      "Process: %s RSS, up %s",
	Loaded:             "Loaded",
	NotFound:           "Not found",
	Enabled:            "Enabled",
	Disabled:           "Disabled",
}

var german = map[string]string{
	DeathCount:         "Todesfälle: %d",
	YourDeaths:         "Du bist %d mal gestorben.",
	NoDeaths:           "Noch keine Todesfälle verzeichnet.",
	TopDeaths:          "Top 5 Todesfälle:",
	TopDeathsEntry:     "%d. %s: %d Todesfälle",
	UnknownPlayer:      "Unbekannt",
	PanelShown:         "Death Counter Panel wird angezeigt.",
	PanelHidden:        "Death Counter Panel wurde versteckt.",
	DeathsReset:        "Todesfälle wurden zurückgesetzt.",
	DeathsResetTarget:  "Todesfälle für %s wurden zurückgesetzt.",
	PlayerNotFound:     "Spieler nicht gefunden.",
	NoPermission:       "Du hast keine Berechtigung für diesen Befehl.",
	AllDeathsReset:     "Alle Todesfälle wurden zurückgesetzt. Betroffen: %d Spieler.",
	ConfigReloaded:     "DeathCounter Konfiguration wurde neu geladen.",
	ConfigReloadFailed: "DeathCounter Konfiguration mit Fehlern neu geladen: %s",
	AvailableCommands:  "Verfügbare Befehle:",
	CmdDeaths:          "/deaths - Zeigt deine eigenen Todesfälle an",
	CmdDeathsTop:       "/deaths-top - Zeigt die Top 5 Spieler mit den meisten Todesfällen",
	CmdPanelShow:       "/panel show - Zeigt das Death Counter Panel an",
	CmdPanelHide:       "/panel hide - Versteckt das Death Counter Panel",
	CmdPanelReset:      "/panel reset <spielername> - Setzt Todesfälle eines Spielers zurück (Admin)",
	CmdPanelResetSelf:  "/panel reset - Setzt deine eigenen Todesfälle zurück",
	UnknownCommand:     "Unbekannter Befehl. Verwende /panel für Hilfe.",
	InfoPanelNotLoaded: "Das Panel-Plugin ist nicht geladen oder verfügbar.",
	Loaded:             "Geladen",
	NotFound:           "Nicht gefunden",
	Enabled:            "Aktiviert",
	Disabled:           "Deaktiviert",
}

var supported = []language.Tag{language.English, language.German}

// Localizer formats message keys for a locale, falling back to English for
// unknown locales and for keys a locale does not translate.
type Localizer struct {
	cat      *catalog.Builder
	matcher  language.Matcher
	fallback language.Tag
}

// New builds a Localizer with the bundled en and de catalogs. It panics if
// a bundled message does not compile.
func New() *Localizer {
	l, err := build(map[language.Tag]map[string]string{
		language.English: english,
		language.German:  withFallback(german),
	})
	if err != nil {
		panic(err)
	}
	return l
}

func build(tables map[language.Tag]map[string]string) (*Localizer, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, messages := range tables {
		if err := register(b, tag, messages); err != nil {
			return nil, err
		}
	}
	return &Localizer{
		cat:      b,
		matcher:  language.NewMatcher(supported),
		fallback: language.English,
	}, nil
}

// Text renders key for locale with args.
func (l *Localizer) Text(locale, key string, args ...any) string {
	p := message.NewPrinter(l.tag(locale), message.Catalog(l.cat))
	return p.Sprintf(key, args...)
}

// Keys returns every message key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(english))
	for k := range english {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *Localizer) tag(locale string) language.Tag {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return l.fallback
	}
	t, err := language.Parse(locale)
	if err != nil {
		return l.fallback
	}
	_, idx, conf := l.matcher.Match(t)
	if conf == language.No {
		return l.fallback
	}
	return supported[idx]
}

// withFallback fills keys missing from messages with the English text.
func withFallback(messages map[string]string) map[string]string {
	out := make(map[string]string, len(english))
	for k, v := range english {
		out[k] = v
	}
	for k, v := range messages {
		out[k] = v
	}
	return out
}

func register(b *catalog.Builder, tag language.Tag, messages map[string]string) error {
	for key, msg := range messages {
		if err := b.SetString(tag, key, msg); err != nil {
			return fmt.Errorf("message %s/%s: %w", tag, key, err)
		}
	}
	return nil
}
