// Package executor maps wire commands onto scene operations and produces
// exactly one envelope per command.
//
// Handler errors become envelope messages and reach MCP clients unchanged,
// so they are written as sentences rather than in Go's lower-case style.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/CommonSenseMachines/blender-mcp/bridge"
	"github.com/CommonSenseMachines/blender-mcp/csm"
	"github.com/CommonSenseMachines/blender-mcp/logger"
	"github.com/CommonSenseMachines/blender-mcp/mainloop"
	"github.com/CommonSenseMachines/blender-mcp/scene"
	"github.com/CommonSenseMachines/blender-mcp/wire"
)

// CommandType is a registered command name.
type CommandType string

const (
	GetSceneInfo    CommandType = "get_scene_info"
	CreateObject    CommandType = "create_object"
	ModifyObject    CommandType = "modify_object"
	DeleteObject    CommandType = "delete_object"
	GetObjectInfo   CommandType = "get_object_info"
	ExecuteCode     CommandType = "execute_code"
	SetMaterial     CommandType = "set_material"
	GetCSMStatus    CommandType = "get_csm_status"
	SearchCSMModels CommandType = "search_csm_models"
	ImportCSMModel  CommandType = "import_csm_model"
	AnimateObject   CommandType = "animate_object"
	GetCorrectTier  CommandType = "get_correct_tier"
	ImportFile      CommandType = "import_file"
)

// CommandTypes lists every registered command in a stable order.
var CommandTypes = []CommandType{
	GetSceneInfo, CreateObject, ModifyObject, DeleteObject, GetObjectInfo,
	ExecuteCode, SetMaterial, GetCSMStatus, SearchCSMModels, ImportCSMModel,
	AnimateObject, GetCorrectTier, ImportFile,
}

// ErrUnknownCommand is returned by Lookup for unregistered types.
var ErrUnknownCommand = errors.New("unknown command type")

type handlerFunc func(ctx context.Context, params map[string]any) (any, error)

type handler struct {
	schema *gojsonschema.Schema
	run    handlerFunc

	// structural handlers run inside WithViewport.
	structural bool
	// detached handlers wait on the network or disk; under a real loop they
	// run on their own goroutine and schedule scene work back onto it.
	detached bool
}

// Executor owns the command registry.
type Executor struct {
	scene    scene.Capabilities
	csm      *csm.Client
	bridge   *bridge.Bridge
	sched    mainloop.Scheduler
	detach   bool
	tempRoot string
	handlers map[CommandType]*handler
	log      *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithScheduler makes network-bound commands run off the calling goroutine,
// scheduling their scene work through s. Without it every command runs on
// the caller, which must own the scene.
func WithScheduler(s mainloop.Scheduler) Option {
	return func(e *Executor) {
		e.sched = s
		_, inline := s.(mainloop.Inline)
		e.detach = !inline
	}
}

// WithTempRoot sets the scratch directory for downloads and exports.
func WithTempRoot(dir string) Option {
	return func(e *Executor) { e.tempRoot = dir }
}

// New builds an executor over sc. client backs the CSM.ai commands.
func New(sc scene.Capabilities, client *csm.Client, opts ...Option) (*Executor, error) {
	e := &Executor{
		scene: sc,
		csm:   client,
		sched: mainloop.Inline{},
		log:   logger.WithComponent("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}

	var bopts []bridge.Option
	bopts = append(bopts, bridge.WithScheduler(e.sched))
	if e.tempRoot != "" {
		bopts = append(bopts, bridge.WithTempRoot(e.tempRoot))
	}
	e.bridge = bridge.New(sc, client, bopts...)

	e.handlers = map[CommandType]*handler{
		GetSceneInfo:    {run: e.getSceneInfo},
		CreateObject:    {run: e.createObject, structural: true},
		ModifyObject:    {run: e.modifyObject, structural: true},
		DeleteObject:    {run: e.deleteObject, structural: true},
		GetObjectInfo:   {run: e.getObjectInfo},
		ExecuteCode:     {run: e.executeCode},
		SetMaterial:     {run: e.setMaterial},
		GetCSMStatus:    {run: e.getCSMStatus},
		SearchCSMModels: {run: e.searchCSMModels, detached: true},
		ImportCSMModel:  {run: e.importCSMModel, detached: true},
		AnimateObject:   {run: e.animateObject, detached: true},
		GetCorrectTier:  {run: e.getCorrectTier, detached: true},
		ImportFile:      {run: e.importFile, detached: true},
	}
	for t, h := range e.handlers {
		schema, err := compileSchema(t)
		if err != nil {
			return nil, err
		}
		h.schema = schema
	}
	return e, nil
}

// Lookup reports whether t is registered.
func Lookup(t string) (CommandType, error) {
	for _, ct := range CommandTypes {
		if string(ct) == t {
			return ct, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCommand, t)
}

// Dispatch executes cmd and passes its envelope to reply exactly once. It
// must be called on the goroutine that owns the scene. Network-bound
// commands return immediately and reply later from another goroutine.
func (e *Executor) Dispatch(ctx context.Context, cmd wire.Command, reply func(wire.Envelope)) {
	h, ok := e.handlers[CommandType(cmd.Type)]
	if !ok || !h.detached || !e.detach {
		reply(e.Execute(ctx, cmd))
		return
	}
	go func() {
		reply(e.Execute(ctx, cmd))
	}()
}

// Execute runs cmd on the calling goroutine and returns its envelope.
// Failures never escape as Go errors or panics.
func (e *Executor) Execute(ctx context.Context, cmd wire.Command) (env wire.Envelope) {
	log := e.log.With("command", cmd.Type)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			env = wire.Failuref("Error executing %s: %v", cmd.Type, r)
		}
	}()

	h, ok := e.handlers[CommandType(cmd.Type)]
	if !ok {
		log.Warn("unknown command")
		return wire.Failuref("Unknown command type: %s", cmd.Type)
	}

	params := cmd.Params
	if params == nil {
		params = map[string]any{}
	}
	if err := validateParams(CommandType(cmd.Type), h.schema, params); err != nil {
		log.Debug("invalid params", "error", err)
		return wire.Failure(err.Error())
	}

	var result any
	run := func() error {
		var err error
		result, err = h.run(ctx, params)
		return err
	}
	var err error
	if h.structural {
		err = e.scene.WithViewport(run)
	} else {
		err = run()
	}
	if err != nil {
		log.Info("command failed", "error", err, "duration", time.Since(start).Round(time.Millisecond))
		return wire.Failure(err.Error())
	}
	log.Debug("command complete", "duration", time.Since(start).Round(time.Millisecond))
	return wire.Success(result)
}
