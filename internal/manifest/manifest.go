// Package manifest parses and validates the manifest.json that every game
// package must carry, and renders entrypoint argv templates at launch time.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FileName is the required manifest file at the package root.
const FileName = "manifest.json"

// Validation failures map one-to-one onto the wire error codes.
var (
	ErrMissing = errors.New("missing_manifest")
	ErrBadJSON = errors.New("bad_manifest_json")
	ErrInvalid = errors.New("bad_manifest")
)

var (
	gameIDRe  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	versionRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)
)

// ValidGameID reports whether s is an acceptable game slug.
func ValidGameID(s string) bool { return gameIDRe.MatchString(s) }

// ValidVersion reports whether s is an acceptable version string.
func ValidVersion(s string) bool { return versionRe.MatchString(s) }

// Entrypoint names an executable module inside the package plus its argv
// template. Argv entries may contain {placeholder} tokens rendered at launch.
type Entrypoint struct {
	Module string   `json:"module"`
	Argv   []string `json:"argv"`
}

// Entrypoints holds the two required launch targets.
type Entrypoints struct {
	Server Entrypoint `json:"server"`
	Client Entrypoint `json:"client"`
}

// Manifest describes one game release.
type Manifest struct {
	GameID      string      `json:"gameId"`
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	Developer   string      `json:"developer"`
	Description string      `json:"description"`
	ClientType  string      `json:"clientType"`
	MinPlayers  int         `json:"minPlayers"`
	MaxPlayers  int         `json:"maxPlayers"`
	Entrypoints Entrypoints `json:"entrypoints"`
}

// Parse decodes and validates a manifest document.
func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	m.GameID = strings.TrimSpace(m.GameID)
	m.Name = strings.TrimSpace(m.Name)
	m.Version = strings.TrimSpace(m.Version)
	m.Developer = strings.TrimSpace(m.Developer)
	m.ClientType = strings.ToLower(strings.TrimSpace(m.ClientType))

	if m.GameID == "" || m.Name == "" || m.Version == "" || m.Developer == "" {
		return fmt.Errorf("%w: identity fields required", ErrInvalid)
	}
	if !ValidGameID(m.GameID) {
		return fmt.Errorf("%w: gameId %q", ErrInvalid, m.GameID)
	}
	if !ValidVersion(m.Version) {
		return fmt.Errorf("%w: version %q", ErrInvalid, m.Version)
	}
	if m.ClientType != "cli" && m.ClientType != "gui" {
		return fmt.Errorf("%w: clientType %q", ErrInvalid, m.ClientType)
	}
	if m.MinPlayers < 1 || m.MaxPlayers < m.MinPlayers {
		return fmt.Errorf("%w: player range %d..%d", ErrInvalid, m.MinPlayers, m.MaxPlayers)
	}
	if strings.TrimSpace(m.Entrypoints.Server.Module) == "" {
		return fmt.Errorf("%w: server entrypoint required", ErrInvalid)
	}
	if strings.TrimSpace(m.Entrypoints.Client.Module) == "" {
		return fmt.Errorf("%w: client entrypoint required", ErrInvalid)
	}
	return nil
}

// Load reads and validates FileName inside dir. The raw bytes are returned
// alongside the parsed manifest so callers can persist the document verbatim.
func Load(dir string) (*Manifest, []byte, error) {
	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrMissing
		}
		return nil, nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	return m, raw, nil
}

// ResolvePackageRoot returns the directory the manifest is looked up in.
// If dir itself has no manifest and contains exactly one subdirectory, that
// subdirectory is treated as the package root.
func ResolvePackageRoot(dir string) string {
	if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
		return dir
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	return filepath.Join(dir, entries[0].Name())
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z]+)\}`)

// RenderArgv substitutes {placeholder} tokens in an argv template.
// An unknown placeholder is an error: a typo in a manifest must not launch a
// process with a literal "{prot}" argument.
func RenderArgv(argv []string, vars map[string]string) ([]string, error) {
	out := make([]string, 0, len(argv))
	for _, arg := range argv {
		var missing string
		rendered := placeholderRe.ReplaceAllStringFunc(arg, func(tok string) string {
			key := tok[1 : len(tok)-1]
			v, ok := vars[key]
			if !ok {
				missing = key
				return tok
			}
			return v
		})
		if missing != "" {
			return nil, fmt.Errorf("argv template %q: unknown placeholder %q", arg, missing)
		}
		out = append(out, rendered)
	}
	return out, nil
}
