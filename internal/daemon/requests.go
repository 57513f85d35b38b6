package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/netlaunch/internal/util"
)

// RequestAction is what a listener request asks the daemon to do.
type RequestAction string

const (
	// ActionReconnect ends the listener's session; the supervisor binds a
	// fresh one right away.
	ActionReconnect RequestAction = "reconnect"

	// ActionStop stops the listener until the next reload or restart.
	ActionStop RequestAction = "stop"
)

// Valid reports whether a is a known action.
func (a RequestAction) Valid() bool {
	return a == ActionReconnect || a == ActionStop
}

// MaxRequestAge is the maximum age of a request before it's ignored.
// Older requests are deleted without execution.
const MaxRequestAge = 10 * time.Minute

// Request asks the running daemon to act on one listener. Requests are JSON
// files under <home>/daemon/requests, picked up when the daemon receives the
// request signal and on every state tick.
type Request struct {
	ID        string        `json:"id"`
	Action    RequestAction `json:"action"`
	Listener  string        `json:"listener"`
	CreatedAt time.Time     `json:"created_at"`
}

func requestsDir(home string) string {
	return filepath.Join(home, "daemon", "requests")
}

// SubmitRequest queues a request for the daemon running in home and signals
// it. It returns ErrNotRunning when no daemon is running.
func SubmitRequest(home string, action RequestAction, listener string) (*Request, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("unknown request action %q", action)
	}
	if listener == "" {
		return nil, fmt.Errorf("request needs a listener")
	}

	running, pid, err := IsRunning(home)
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, ErrNotRunning
	}

	req := &Request{
		ID:        uuid.New().String(),
		Action:    action,
		Listener:  listener,
		CreatedAt: time.Now(),
	}
	if err := util.AtomicWriteJSON(filepath.Join(requestsDir(home), req.ID+".json"), req); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	// Without the signal the request still runs on the next state tick.
	if process, err := os.FindProcess(pid); err == nil {
		_ = sendRequestSignal(process)
	}
	return req, nil
}

// claimRequests reads and deletes every queued request, oldest first.
// Deleting before executing keeps a failing request from running again on
// every tick; the sender has to ask again.
func (d *Daemon) claimRequests() []*Request {
	dir := requestsDir(d.config.Home)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.Printf("Warning: reading requests: %v", err)
		}
		return nil
	}

	var reqs []*Request
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			d.logger.Printf("Warning: reading request %s: %v", e.Name(), err)
			continue
		}
		if err := os.Remove(path); err != nil {
			d.logger.Printf("Warning: failed to delete request %s before execution: %v", e.Name(), err)
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			d.logger.Printf("Ignoring unparseable request %s: %v", e.Name(), err)
			continue
		}
		reqs = append(reqs, &req)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
	return reqs
}

// processRequests executes queued listener requests and republishes state
// if any ran.
func (d *Daemon) processRequests() {
	reqs := d.claimRequests()
	if len(reqs) == 0 {
		return
	}

	for _, req := range reqs {
		if age := time.Since(req.CreatedAt); age > MaxRequestAge {
			d.logger.Printf("Ignoring stale %s request for %s (age: %v, max: %v)",
				req.Action, req.Listener, age.Round(time.Second), MaxRequestAge)
			continue
		}
		d.logger.Printf("Processing %s request for listener %s", req.Action, req.Listener)
		if err := d.executeRequest(req); err != nil {
			d.logger.Printf("Error executing %s request: %v", req.Action, err)
		}
	}
	d.publishState()
}

func (d *Daemon) executeRequest(req *Request) error {
	switch req.Action {
	case ActionReconnect:
		return d.supervisor.RequestReconnect(req.Listener)
	case ActionStop:
		return d.supervisor.Stop(req.Listener)
	default:
		return fmt.Errorf("unknown action %q", req.Action)
	}
}
