// handlers.go registers every RPC method this daemon exposes: job control
// and location management, each a thin adapter from decoded JSON params onto
// the CoreHandle's components.
/*
 * Copyright (c) 2024, corevault authors.
 */
package main

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/sdcore/corevault/cmn/cos"
	"github.com/sdcore/corevault/core"
	"github.com/sdcore/corevault/evtbus"
	"github.com/sdcore/corevault/xjob"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func (h *CoreHandle) registerHandlers() {
	h.RPC.Handle("jobs.spawn", h.rpcJobSpawn)
	h.RPC.Handle("jobs.pause", h.rpcJobSignal(h.Jobs.Pause))
	h.RPC.Handle("jobs.resume", h.rpcJobSignal(h.Jobs.Resume))
	h.RPC.Handle("jobs.cancel", h.rpcJobSignal(h.Jobs.Cancel))
	h.RPC.Handle("jobs.get", h.rpcJobGet)
	h.RPC.Handle("jobs.list", h.rpcJobList)
	h.RPC.Handle("jobs.groups", h.rpcJobGroups)
	h.RPC.Handle("jobs.delete", h.rpcJobDelete)
	h.RPC.Handle("jobs.delete_terminal", h.rpcJobDeleteTerminal)
	h.RPC.Handle("libraries.add", h.rpcLibraryAdd)
	h.RPC.Handle("locations.add", h.rpcLocationAdd)
	h.RPC.Handle("locations.remove", h.rpcLocationRemove)
	h.RPC.Handle("locations.list", h.rpcLocationList)
	h.RPC.HandleSubscription("jobs.subscribe", h.rpcJobSubscribe)
}

type jobSpawnParams struct {
	LibraryID  uuid.UUID       `json:"library_id"`
	ActionName string          `json:"action_name"`
	LocationID int64           `json:"location_id"`
	SubPath    string          `json:"sub_path"`
	Params     json.RawMessage `json:"params"`
	Name       string          `json:"name"`
	TaskCount  int64           `json:"task_count"`
	MaxErrors  int64           `json:"max_errors"`
}

// rpcJobSpawn exists to document the wire shape; actual job bodies (indexer,
// thumbnailer, etc.) are registered by whatever embeds this daemon, since the
// job manager itself is body-agnostic (xjob.Body). A bare RPC spawn with no
// body registered for ActionName fails closed rather than starting a no-op
// worker.
func (h *CoreHandle) rpcJobSpawn(_ context.Context, params json.RawMessage) (any, error) {
	var p jobSpawnParams
	if err := jsonAPI.Unmarshal(params, &p); err != nil {
		return nil, cos.NewInvalid("decode jobs.spawn params: %v", err)
	}
	init := core.JobInit{
		LibraryID:  p.LibraryID,
		ActionName: p.ActionName,
		LocationID: p.LocationID,
		SubPath:    p.SubPath,
		Params:     p.Params,
		Name:       p.Name,
		TaskCount:  p.TaskCount,
		MaxErrors:  p.MaxErrors,
	}
	body, ok := h.lookupBody(p.ActionName, init)
	if !ok {
		return nil, cos.NewInvalid("no job body registered for action %q", p.ActionName)
	}
	id := h.Jobs.Spawn(init, body)
	return map[string]any{"job_id": id}, nil
}

type jobIDParams struct {
	JobID uuid.UUID `json:"job_id"`
}

func (h *CoreHandle) rpcJobSignal(signal func(uuid.UUID) error) func(context.Context, json.RawMessage) (any, error) {
	return func(_ context.Context, params json.RawMessage) (any, error) {
		var p jobIDParams
		if err := jsonAPI.Unmarshal(params, &p); err != nil {
			return nil, cos.NewInvalid("decode job id: %v", err)
		}
		if err := signal(p.JobID); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	}
}

func (h *CoreHandle) rpcJobGet(_ context.Context, params json.RawMessage) (any, error) {
	var p jobIDParams
	if err := jsonAPI.Unmarshal(params, &p); err != nil {
		return nil, cos.NewInvalid("decode job id: %v", err)
	}
	r, ok := h.Jobs.Get(p.JobID)
	if !ok {
		return nil, cos.NewNotFound("job %s", p.JobID)
	}
	return r, nil
}

type libraryIDParams struct {
	LibraryID uuid.UUID `json:"library_id"`
}

// mergedReports joins the in-memory active table with persisted reports, the
// in-memory copy winning on id collision so clients always see the latest
// progress.
func (h *CoreHandle) mergedReports(libraryID uuid.UUID) ([]*core.JobReport, error) {
	persisted, err := h.Store.ListByLibrary(libraryID)
	if err != nil {
		return nil, err
	}
	active := h.Jobs.ActiveReports()
	merged := make(map[uuid.UUID]*core.JobReport, len(persisted)+len(active))
	for _, r := range persisted {
		merged[r.ID] = r
	}
	for id, r := range active {
		if r.LibraryID == libraryID {
			merged[id] = r
		}
	}
	out := make([]*core.JobReport, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	return out, nil
}

func (h *CoreHandle) rpcJobList(_ context.Context, params json.RawMessage) (any, error) {
	var p libraryIDParams
	if err := jsonAPI.Unmarshal(params, &p); err != nil {
		return nil, cos.NewInvalid("decode library id: %v", err)
	}
	return h.mergedReports(p.LibraryID)
}

// rpcJobGroups is the client-facing reports query: merged reports bucketed
// by (action, group_key), most-recent groups first.
func (h *CoreHandle) rpcJobGroups(_ context.Context, params json.RawMessage) (any, error) {
	var p libraryIDParams
	if err := jsonAPI.Unmarshal(params, &p); err != nil {
		return nil, cos.NewInvalid("decode library id: %v", err)
	}
	reports, err := h.mergedReports(p.LibraryID)
	if err != nil {
		return nil, err
	}
	return core.GroupReports(reports), nil
}

func (h *CoreHandle) rpcJobDelete(_ context.Context, params json.RawMessage) (any, error) {
	var p jobIDParams
	if err := jsonAPI.Unmarshal(params, &p); err != nil {
		return nil, cos.NewInvalid("decode job id: %v", err)
	}
	if err := h.Jobs.Delete(p.JobID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (h *CoreHandle) rpcJobDeleteTerminal(_ context.Context, params json.RawMessage) (any, error) {
	var p libraryIDParams
	if err := jsonAPI.Unmarshal(params, &p); err != nil {
		return nil, cos.NewInvalid("decode library id: %v", err)
	}
	if err := h.Jobs.DeleteTerminal(p.LibraryID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

type libraryAddParams struct {
	ID       uuid.UUID `json:"id"`
	Identity string    `json:"identity"`
}

func (h *CoreHandle) rpcLibraryAdd(_ context.Context, params json.RawMessage) (any, error) {
	var p libraryAddParams
	if err := jsonAPI.Unmarshal(params, &p); err != nil {
		return nil, cos.NewInvalid("decode libraries.add params: %v", err)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	lib := &core.Library{ID: p.ID, Identity: p.Identity}
	if err := h.Store.PutLibrary(lib); err != nil {
		return nil, err
	}
	return map[string]any{"id": lib.ID}, nil
}

type locationAddParams struct {
	LibraryID uuid.UUID `json:"library_id"`
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	Identity  string    `json:"identity"`
}

func (h *CoreHandle) rpcLocationAdd(_ context.Context, params json.RawMessage) (any, error) {
	var p locationAddParams
	if err := jsonAPI.Unmarshal(params, &p); err != nil {
		return nil, cos.NewInvalid("decode locations.add params: %v", err)
	}
	if _, err := h.Store.GetLibrary(p.LibraryID); err != nil {
		return nil, err // a location can only be registered under a known library
	}
	loc := &core.Location{ID: p.ID, PubID: uuid.New(), Path: p.Path, Identity: p.Identity, Online: true}
	if err := h.StartLocation(p.LibraryID, loc); err != nil {
		return nil, cos.NewInternal(err, "start location %d", p.ID)
	}
	return map[string]any{"pub_id": loc.PubID}, nil
}

type locationRemoveParams struct {
	ID int64 `json:"id"`
}

func (h *CoreHandle) rpcLocationRemove(_ context.Context, params json.RawMessage) (any, error) {
	var p locationRemoveParams
	if err := jsonAPI.Unmarshal(params, &p); err != nil {
		return nil, cos.NewInvalid("decode locations.remove params: %v", err)
	}
	h.StopLocation(p.ID)
	return map[string]any{"ok": true}, nil
}

// rpcLocationList returns every currently-watched Location on this instance.
func (h *CoreHandle) rpcLocationList(context.Context, json.RawMessage) (any, error) {
	out := make([]*core.Location, 0, len(h.Locations()))
	for _, loc := range h.Locations() {
		out = append(out, loc)
	}
	return out, nil
}

// rpcJobSubscribe streams TopicJobProgress events to one client until the
// context is cancelled (client unsubscribes or the connection drops).
func (h *CoreHandle) rpcJobSubscribe(ctx context.Context, _ json.RawMessage, push func(event any)) error {
	sub := h.Bus.Subscribe(evtbus.TopicJobProgress)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			push(ev)
		}
	}
}

// lookupBody resolves an action name to a fresh job Body built from the init
// payload; corevaultd itself ships no concrete job bodies (indexing/
// thumbnailing live with whatever embeds this core), so the registry starts
// empty and RegisterBody is the extension point.
func (h *CoreHandle) lookupBody(action string, init core.JobInit) (xjob.Body, bool) {
	h.bodiesMu.Lock()
	defer h.bodiesMu.Unlock()
	f, ok := h.bodies[action]
	if !ok {
		return nil, false
	}
	return f(init), true
}
