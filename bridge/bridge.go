// Package bridge runs remote mesh animation against the local scene.
//
// An animation request moves through a fixed sequence of states. Scene work
// is scheduled onto the scene-owning loop; encoding and the remote call run
// on the caller's goroutine so the loop keeps serving other sessions.
//
// Error text ends up in reply payloads verbatim and is written for users.
package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/CommonSenseMachines/blender-mcp/csm"
	"github.com/CommonSenseMachines/blender-mcp/logger"
	"github.com/CommonSenseMachines/blender-mcp/mainloop"
	"github.com/CommonSenseMachines/blender-mcp/paths"
	"github.com/CommonSenseMachines/blender-mcp/scene"
)

// BackupCollection holds hidden linked copies of animated targets. It is
// excluded from the view layer.
const BackupCollection = "MCP_Backup_Meshes"

const backupSuffix = "_backup"

// State names a step of an animation run.
type State string

const (
	StateCheckTarget    State = "CHECK_TARGET_EXISTS"
	StateEnsureBackup   State = "ENSURE_BACKUP"
	StateSelectSource   State = "SELECT_EXPORT_SOURCE"
	StateExportMesh     State = "EXPORT_MESH"
	StateEncodePayload  State = "ENCODE_PAYLOAD"
	StateCallService    State = "CALL_REMOTE_SERVICE"
	StatePersistResult  State = "PERSIST_RESULT"
	StateImportResult   State = "IMPORT_RESULT"
	StateReconcile      State = "RECONCILE_COLLECTION"
	StateHandleOriginal State = "HANDLE_ORIGINAL"
	StateCleanupBackups State = "CLEANUP_BACKUPS"
	StateDone           State = "DONE"
	StateFailed         State = "FAILED"
)

// Policy says what happens to the original object after a successful run.
type Policy string

const (
	PolicyKeep   Policy = "keep"
	PolicyHide   Policy = "hide"
	PolicyDelete Policy = "delete"
)

// ParsePolicy validates a handle_original value. Empty means hide.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "":
		return PolicyHide, nil
	case PolicyKeep, PolicyHide, PolicyDelete:
		return Policy(s), nil
	}
	return "", errors.New("handle_original must be one of keep, hide, delete")
}

// Request describes one animation run. Exactly one of Prompt and
// AnimationFile is set.
type Request struct {
	ObjectName     string
	Prompt         string
	AnimationFile  string // path to a driver FBX
	TempFormat     string // glb or fbx, default glb
	HandleOriginal Policy
	CollectionName string // default {ObjectName}_Animations
}

func (r Request) fromFile() bool { return r.AnimationFile != "" }

// Result is the success payload of an animation run.
type Result struct {
	Succeed         bool     `json:"succeed"`
	Message         string   `json:"message"`
	OriginalObject  string   `json:"original_object"`
	AnimationPrompt string   `json:"animation_prompt,omitempty"`
	AnimationFile   string   `json:"animation_file,omitempty"`
	ImportedObjects []string `json:"imported_objects"`
	Collection      string   `json:"collection"`
	HandleOriginal  Policy   `json:"handle_original"`
	ArmatureObject  string   `json:"armature_object,omitempty"`
	MeshObject      string   `json:"mesh_object,omitempty"`
}

// ReasonOperation marks failures that did not come from the remote service.
const ReasonOperation csm.Reason = "operation"

// Failure is a run that stopped before DONE. The scene is left as it was at
// the failing state; backups are never removed.
type Failure struct {
	State   State
	Reason  csm.Reason
	Message string
	Details string
	Err     error
}

func (f *Failure) Error() string { return f.Message }
func (f *Failure) Unwrap() error { return f.Err }

// Payload renders the failure as a reply body.
func (f *Failure) Payload() map[string]any {
	p := map[string]any{
		"succeed": false,
		"error":   f.Message,
		"reason":  string(f.Reason),
		"state":   string(f.State),
	}
	if f.Details != "" {
		p["details"] = f.Details
	}
	return p
}

// Service is the remote side of the bridge. *csm.Client implements it.
type Service interface {
	Animate(ctx context.Context, payload any, w io.Writer) (int64, error)
	Download(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Bridge drives animation and model import runs.
type Bridge struct {
	scene    scene.Capabilities
	sched    mainloop.Scheduler
	service  Service
	tempRoot string
	log      *slog.Logger
	steps    map[State]stepFunc
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithScheduler sets where scene work runs. The default is mainloop.Inline.
func WithScheduler(s mainloop.Scheduler) Option {
	return func(b *Bridge) { b.sched = s }
}

// WithTempRoot sets the parent directory for scratch files.
func WithTempRoot(dir string) Option {
	return func(b *Bridge) { b.tempRoot = dir }
}

// New creates a bridge over sc using service for remote calls.
func New(sc scene.Capabilities, service Service, opts ...Option) *Bridge {
	b := &Bridge{
		scene:   sc,
		sched:   mainloop.Inline{},
		service: service,
		log:     logger.WithComponent("bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.tempRoot == "" {
		if dir, err := paths.ScratchDir(); err == nil {
			b.tempRoot = dir
		}
	}
	b.steps = map[State]stepFunc{
		StateCheckTarget:    b.checkTarget,
		StateEnsureBackup:   b.ensureBackupStep,
		StateSelectSource:   b.selectSource,
		StateExportMesh:     b.exportMesh,
		StateEncodePayload:  b.encodePayload,
		StateCallService:    b.callService,
		StatePersistResult:  b.persistResult,
		StateImportResult:   b.importResult,
		StateReconcile:      b.reconcile,
		StateHandleOriginal: b.handleOriginal,
		StateCleanupBackups: b.cleanupBackups,
	}
	return b
}

// scratchDir creates a private directory under the temp root.
func (b *Bridge) scratchDir(pattern string) (string, error) {
	if b.tempRoot != "" {
		if err := os.MkdirAll(b.tempRoot, 0o755); err != nil {
			return "", err
		}
	}
	return os.MkdirTemp(b.tempRoot, pattern)
}

// Animate runs req to DONE or returns a *Failure.
func (b *Bridge) Animate(ctx context.Context, req Request) (*Result, error) {
	if req.TempFormat == "" {
		req.TempFormat = "glb"
	}
	if req.HandleOriginal == "" {
		req.HandleOriginal = PolicyHide
	}
	r := &run{req: req, state: StateCheckTarget}
	defer r.close()

	log := b.log.With("object", req.ObjectName)
	if req.fromFile() {
		log = log.With("animation_file", req.AnimationFile)
	}
	log.Info("animation started")

	for r.state != StateDone {
		step, ok := b.steps[r.state]
		if !ok {
			return nil, b.fail(r, errors.New("unknown state "+string(r.state)))
		}
		next, err := step(ctx, r)
		if err != nil {
			f := b.fail(r, err)
			log.Warn("animation failed", "state", f.State, "reason", f.Reason, "error", f.Message)
			r.state = StateFailed
			return nil, f
		}
		log.Debug("state transition", "from", r.state, "to", next)
		r.state = next
	}

	log.Info("animation complete", "imported", len(r.imported))
	return r.result(), nil
}

func (b *Bridge) fail(r *run, err error) *Failure {
	f := &Failure{State: r.state, Reason: ReasonOperation, Message: err.Error(), Err: err}
	var se *csm.ServiceError
	if errors.As(err, &se) {
		f.Reason = se.Reason
		f.Details = se.Details
	}
	return f
}

// EnsureBackup makes sure a hidden linked copy of name exists in the backup
// collection and returns its name. Repeated calls reuse the same backup.
func (b *Bridge) EnsureBackup(ctx context.Context, name string) (string, error) {
	var backup string
	err := b.sched.Do(ctx, func() error {
		var err error
		backup, err = b.ensureBackup(name, name)
		return err
	})
	return backup, err
}

// ensureBackup must run on the scene-owning context.
func (b *Bridge) ensureBackup(name, source string) (string, error) {
	if err := b.scene.EnsureCollection(BackupCollection, true); err != nil {
		return "", err
	}
	want := name + backupSuffix
	if existing, ok := b.backupOf(name); ok {
		return existing, nil
	}
	dup, err := b.scene.LinkedDuplicate(source, want)
	if err != nil {
		return "", err
	}
	if err := b.scene.LinkToCollection(dup.Name, BackupCollection); err != nil {
		return "", err
	}
	hidden := false
	if _, err := b.scene.UpdateObject(dup.Name, scene.ObjectUpdate{Visible: &hidden}); err != nil {
		return "", err
	}
	b.log.Info("created backup", "object", name, "backup", dup.Name)
	return dup.Name, nil
}

func (b *Bridge) backupOf(name string) (string, bool) {
	coll, ok := b.scene.Collection(BackupCollection)
	if !ok {
		return "", false
	}
	want := name + backupSuffix
	for _, n := range coll.Objects {
		if n == want {
			return n, true
		}
	}
	return "", false
}
