package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/crucible"
)

// Build info injected from main via SetVersionInfo.
var (
	AppVersion   = "dev"
	AppCommit    = "unknown"
	AppBuildDate = "unknown"
)

var (
	versionMu   sync.RWMutex
	appIdentity *appidentity.Identity
	generation  *GenerationInfo
)

// SetVersionInfo sets the build information reported by /version.
func SetVersionInfo(version, commit, buildDate string) {
	AppVersion = version
	AppCommit = commit
	AppBuildDate = buildDate
}

// SetAppIdentity sets the identity reported by /version.
func SetAppIdentity(identity *appidentity.Identity) {
	versionMu.Lock()
	appIdentity = identity
	versionMu.Unlock()
}

// SetGenerationInfo sets the upstream provider and limits reported by
// /version. A nil value omits the block.
func SetGenerationInfo(info *GenerationInfo) {
	versionMu.Lock()
	generation = info
	versionMu.Unlock()
}

// VersionResponse is the /version body.
type VersionResponse struct {
	App          AppInfo         `json:"app"`
	Generation   *GenerationInfo `json:"generation,omitempty"`
	Dependencies DepInfo         `json:"dependencies"`
	Runtime      RuntimeInfo     `json:"runtime"`
}

// AppInfo contains build details.
type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// GenerationInfo describes the upstream service and the limits bulk runs
// are paced against.
type GenerationInfo struct {
	Provider             string `json:"provider"`
	Model                string `json:"model,omitempty"`
	RPMLimit             int    `json:"rpm_limit"`
	RPDLimit             int    `json:"rpd_limit"`
	RequestedConcurrency int    `json:"requested_concurrency"`
	EffectiveConcurrency int    `json:"effective_concurrency"`
}

// DepInfo contains Fulmen library versions.
type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

// RuntimeInfo contains process details.
type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// VersionHandler serves build, generation and runtime information.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	versionMu.RLock()
	identity, gen := appIdentity, generation
	versionMu.RUnlock()

	name := "unknown"
	if identity != nil && identity.BinaryName != "" {
		name = identity.BinaryName
	} else if len(os.Args) > 0 && os.Args[0] != "" {
		name = filepath.Base(os.Args[0])
	}

	v := crucible.GetVersion()
	writeJSON(w, http.StatusOK, VersionResponse{
		App: AppInfo{
			Name:      name,
			Version:   AppVersion,
			Commit:    AppCommit,
			BuildDate: AppBuildDate,
			GoVersion: runtime.Version(),
		},
		Generation:   gen,
		Dependencies: DepInfo{Gofulmen: v.Gofulmen, Crucible: v.Crucible},
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
		},
	})
}
