package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CommonSenseMachines/blender-mcp/csm"
	"github.com/CommonSenseMachines/blender-mcp/scene"
)

type stepFunc func(ctx context.Context, r *run) (State, error)

// run is the mutable state of one Animate call.
type run struct {
	req   Request
	state State

	target        scene.Object
	usingOriginal bool
	usingBackup   bool
	backup        string
	exportName    string
	standIn       string

	dir        string
	meshPath   string
	outputPath string
	out        *os.File
	safeName   string
	payload    any

	imported   []string
	armature   string
	mesh       string
	collection string
}

func (r *run) close() {
	if r.out != nil {
		r.out.Close()
	}
	if r.dir != "" {
		os.RemoveAll(r.dir)
	}
}

func (r *run) result() *Result {
	res := &Result{
		Succeed:         true,
		OriginalObject:  r.req.ObjectName,
		ImportedObjects: r.imported,
		Collection:      r.collection,
		HandleOriginal:  r.req.HandleOriginal,
		ArmatureObject:  r.armature,
		MeshObject:      r.mesh,
	}
	if r.req.fromFile() {
		res.AnimationFile = r.req.AnimationFile
		res.Message = fmt.Sprintf("Object '%s' animated with file: '%s'", r.req.ObjectName, filepath.Base(r.req.AnimationFile))
	} else {
		res.AnimationPrompt = r.req.Prompt
		res.Message = fmt.Sprintf("Object '%s' animated with prompt: '%s'", r.req.ObjectName, r.req.Prompt)
	}
	return res
}

// safePromptName turns a prompt into a name fragment.
func safePromptName(prompt string) string {
	s := strings.ReplaceAll(prompt, " ", "_")
	s = strings.ReplaceAll(s, "/", "-")
	return strings.ToLower(s)
}

func (b *Bridge) checkTarget(ctx context.Context, r *run) (State, error) {
	name := r.req.ObjectName
	if r.req.fromFile() {
		if _, err := os.Stat(r.req.AnimationFile); err != nil {
			return "", fmt.Errorf("Animation FBX file not found: %s", r.req.AnimationFile)
		}
	} else if strings.TrimSpace(r.req.Prompt) == "" {
		return "", fmt.Errorf("animation_prompt or animation_fbx_path is required")
	}

	err := b.sched.Do(ctx, func() error {
		obj, err := b.scene.Object(name)
		if err != nil {
			backup, ok := b.backupOf(name)
			if !ok {
				return scene.ObjectNotFound(name)
			}
			if obj, err = b.scene.Object(backup); err != nil {
				return err
			}
		}
		if obj.Kind != scene.KindMesh {
			return fmt.Errorf("Object %s is not a mesh (type: %s)", obj.Name, obj.Kind)
		}
		r.target = obj
		return nil
	})
	if err != nil {
		return "", err
	}

	r.usingOriginal = r.target.Name == name && !r.target.Hidden
	r.usingBackup = strings.HasSuffix(r.target.Name, backupSuffix) || r.target.Hidden
	r.collection = r.req.CollectionName
	if r.collection == "" {
		r.collection = name + "_Animations"
	}
	return StateEnsureBackup, nil
}

func (b *Bridge) ensureBackupStep(ctx context.Context, r *run) (State, error) {
	err := b.sched.Do(ctx, func() error {
		var err error
		r.backup, err = b.ensureBackup(r.req.ObjectName, r.target.Name)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", r.req.ObjectName, err)
	}
	return StateSelectSource, nil
}

// selectSource exports the original when it is live, otherwise a
// temporary visible stand-in built from the backup.
func (b *Bridge) selectSource(ctx context.Context, r *run) (State, error) {
	if !r.usingBackup {
		r.exportName = r.target.Name
		return StateExportMesh, nil
	}
	err := b.sched.Do(ctx, func() error {
		dup, err := b.scene.LinkedDuplicate(r.backup, r.req.ObjectName+"_temp")
		if err != nil {
			return err
		}
		if err := b.scene.LinkToCollection(dup.Name, scene.DefaultCollection); err != nil {
			b.scene.DeleteObject(dup.Name)
			return err
		}
		r.standIn = dup.Name
		r.exportName = dup.Name
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to prepare export source: %w", err)
	}
	return StateExportMesh, nil
}

func (b *Bridge) exportMesh(ctx context.Context, r *run) (State, error) {
	dir, err := b.scratchDir("animate-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	r.dir = dir
	r.meshPath = filepath.Join(dir, fmt.Sprintf("%s_temp.%s", r.req.ObjectName, r.req.TempFormat))

	err = b.sched.Do(ctx, func() error {
		exportErr := b.scene.Export([]string{r.exportName}, r.meshPath, r.req.TempFormat)
		if r.standIn != "" {
			if err := b.scene.DeleteObject(r.standIn); err != nil {
				b.log.Warn("failed to remove export stand-in", "object", r.standIn, "error", err)
			}
			r.standIn = ""
		}
		return exportErr
	})
	if err != nil {
		return "", fmt.Errorf("Failed to export mesh: %w", err)
	}
	if _, err := os.Stat(r.meshPath); err != nil {
		return "", fmt.Errorf("Failed to export mesh to %s", r.meshPath)
	}
	return StateEncodePayload, nil
}

func (b *Bridge) encodePayload(_ context.Context, r *run) (State, error) {
	mesh, err := os.ReadFile(r.meshPath)
	if err != nil {
		return "", fmt.Errorf("failed to read exported mesh: %w", err)
	}
	meshB64 := base64.StdEncoding.EncodeToString(mesh)

	if r.req.fromFile() {
		fbx, err := os.ReadFile(r.req.AnimationFile)
		if err != nil {
			return "", fmt.Errorf("failed to read animation file: %w", err)
		}
		r.payload = csm.FileAnimation{
			MeshB64Str:         meshB64,
			AnimationFBXB64Str: base64.StdEncoding.EncodeToString(fbx),
		}
		base := filepath.Base(r.req.AnimationFile)
		r.safeName = strings.TrimSuffix(base, filepath.Ext(base))
	} else {
		r.payload = csm.NewPromptAnimation(meshB64, r.req.Prompt)
		r.safeName = safePromptName(r.req.Prompt)
	}
	r.outputPath = filepath.Join(r.dir, fmt.Sprintf("%s_%s.fbx", r.req.ObjectName, r.safeName))
	return StateCallService, nil
}

func (b *Bridge) callService(ctx context.Context, r *run) (State, error) {
	f, err := os.Create(r.outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to create result file: %w", err)
	}
	r.out = f
	if _, err := b.service.Animate(ctx, r.payload, f); err != nil {
		return "", err
	}
	return StatePersistResult, nil
}

func (b *Bridge) persistResult(_ context.Context, r *run) (State, error) {
	f := r.out
	r.out = nil
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to save animation result: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to save animation result: %w", err)
	}
	info, err := os.Stat(r.outputPath)
	if err != nil || info.Size() == 0 {
		return "", fmt.Errorf("Animation result was not saved to %s", r.outputPath)
	}
	return StateImportResult, nil
}

func (b *Bridge) importResult(ctx context.Context, r *run) (State, error) {
	err := b.sched.Do(ctx, func() error {
		names, err := b.scene.Import(r.outputPath)
		if err != nil {
			return fmt.Errorf("Failed to import animation: %w", err)
		}
		if len(names) == 0 {
			return fmt.Errorf("Animation imported but no new objects were created")
		}

		prefix := r.req.ObjectName + "_" + r.safeName
		for _, n := range names {
			obj, err := b.scene.Object(n)
			if err != nil {
				return err
			}
			final := n
			switch obj.Kind {
			case scene.KindArmature:
				if final, err = b.scene.RenameObject(n, prefix+"_armature"); err != nil {
					return err
				}
				r.armature = final
				if r.req.fromFile() {
					loc := r.target.Location
					if _, err := b.scene.UpdateObject(final, scene.ObjectUpdate{Location: &loc}); err != nil {
						return err
					}
				}
			case scene.KindMesh:
				if final, err = b.scene.RenameObject(n, prefix); err != nil {
					return err
				}
				r.mesh = final
			}
			r.imported = append(r.imported, final)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return StateReconcile, nil
}

func (b *Bridge) reconcile(ctx context.Context, r *run) (State, error) {
	err := b.sched.Do(ctx, func() error {
		if err := b.scene.EnsureCollection(r.collection, false); err != nil {
			return err
		}
		for _, n := range r.imported {
			if err := b.scene.MoveToCollection(n, r.collection); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to organize imported objects: %w", err)
	}
	return StateHandleOriginal, nil
}

// handleOriginal applies the policy only when the live original was the
// source. Deleting requires a backup to exist.
func (b *Bridge) handleOriginal(ctx context.Context, r *run) (State, error) {
	if !r.usingOriginal || r.req.HandleOriginal == PolicyKeep {
		return StateCleanupBackups, nil
	}
	err := b.sched.Do(ctx, func() error {
		name := r.req.ObjectName
		if _, err := b.scene.Object(name); err != nil {
			return nil
		}
		switch r.req.HandleOriginal {
		case PolicyHide:
			hidden := false
			_, err := b.scene.UpdateObject(name, scene.ObjectUpdate{Visible: &hidden})
			return err
		case PolicyDelete:
			if _, ok := b.backupOf(name); !ok {
				return nil
			}
			return b.scene.DeleteObject(name)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to handle original object: %w", err)
	}
	return StateCleanupBackups, nil
}

func (b *Bridge) cleanupBackups(ctx context.Context, r *run) (State, error) {
	err := b.sched.Do(ctx, func() error {
		coll, ok := b.scene.Collection(BackupCollection)
		if !ok {
			return nil
		}
		for _, n := range coll.Objects {
			if err := b.scene.DeleteObject(n); err != nil {
				return err
			}
		}
		return b.scene.RemoveCollection(BackupCollection)
	})
	if err != nil {
		return "", fmt.Errorf("failed to clean up backups: %w", err)
	}
	return StateDone, nil
}
