package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/microsoft/amplifier-bundle-containers/internal/domain"
)

// Op enumerates every operation the manager exposes. The set is closed;
// strings appear only at the invoke boundary where JSON comes in.
type Op string

const (
	OpPreflight           Op = "preflight"
	OpCreate              Op = "create"
	OpExec                Op = "exec"
	OpExecInteractiveHint Op = "exec_interactive_hint"
	OpExecBackground      Op = "exec_background"
	OpExecPoll            Op = "exec_poll"
	OpExecCancel          Op = "exec_cancel"
	OpList                Op = "list"
	OpStatus              Op = "status"
	OpDestroy             Op = "destroy"
	OpDestroyAll          Op = "destroy_all"
	OpCopyIn              Op = "copy_in"
	OpCopyOut             Op = "copy_out"
	OpSnapshot            Op = "snapshot"
	OpRestore             Op = "restore"
	OpCreateNetwork       Op = "create_network"
	OpDestroyNetwork      Op = "destroy_network"
	OpCacheClear          Op = "cache_clear"
	OpWaitHealthy         Op = "wait_healthy"
)

// Ops lists every operation in a stable order, for help output.
func Ops() []Op {
	return []Op{
		OpPreflight, OpCreate, OpExec, OpExecInteractiveHint,
		OpExecBackground, OpExecPoll, OpExecCancel,
		OpList, OpStatus, OpDestroy, OpDestroyAll,
		OpCopyIn, OpCopyOut, OpSnapshot, OpRestore,
		OpCreateNetwork, OpDestroyNetwork, OpCacheClear, OpWaitHealthy,
	}
}

type nameParams struct {
	Name string `json:"container"`
}

type jobParams struct {
	Name  string `json:"container"`
	Token string `json:"token"`
}

type copyParams struct {
	Name          string `json:"container"`
	HostPath      string `json:"host_path"`
	ContainerPath string `json:"container_path"`
}

type snapshotParams struct {
	Name string `json:"container"`
	Tag  string `json:"tag,omitempty"`
}

type restoreParams struct {
	Image string `json:"image"`
	Name  string `json:"container"`
}

type networkParams struct {
	Name string `json:"network"`
}

type cacheClearParams struct {
	Purpose string `json:"purpose,omitempty"`
}

type destroyAllParams struct {
	Confirm bool `json:"confirm,omitempty"`
}

type waitHealthyParams struct {
	Name           string `json:"container"`
	TimeoutSeconds int    `json:"timeout,omitempty"`
}

type okResult struct {
	Success bool `json:"success"`
}

func decode[T any](raw json.RawMessage) (*T, error) {
	var params T
	if len(raw) == 0 {
		return &params, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		return nil, opErrorf(CodeInvalidConfig, "check the parameter names against the operation's schema",
			"invalid parameters: %v", err)
	}
	return &params, nil
}

// Dispatch routes one operation. Every Op has an arm; unknown strings can
// only arrive from the JSON boundary and are rejected there.
func (m *Manager) Dispatch(ctx context.Context, op Op, raw json.RawMessage) (any, error) {
	switch op {
	case OpPreflight:
		return m.Preflight(ctx), nil
	case OpCreate:
		req, err := decode[domain.CreateRequest](raw)
		if err != nil {
			return nil, err
		}
		return m.Create(ctx, req)
	case OpExec:
		req, err := decode[ExecRequest](raw)
		if err != nil {
			return nil, err
		}
		return m.Exec(ctx, req)
	case OpExecInteractiveHint:
		p, err := decode[nameParams](raw)
		if err != nil {
			return nil, err
		}
		hint, err := m.InteractiveHint(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		return map[string]string{"command": hint}, nil
	case OpExecBackground:
		req, err := decode[ExecRequest](raw)
		if err != nil {
			return nil, err
		}
		return m.ExecBackground(ctx, req)
	case OpExecPoll:
		p, err := decode[jobParams](raw)
		if err != nil {
			return nil, err
		}
		return m.ExecPoll(ctx, p.Name, p.Token)
	case OpExecCancel:
		p, err := decode[jobParams](raw)
		if err != nil {
			return nil, err
		}
		if err := m.ExecCancel(ctx, p.Name, p.Token); err != nil {
			return nil, err
		}
		return okResult{true}, nil
	case OpList:
		return m.List(ctx)
	case OpStatus:
		p, err := decode[nameParams](raw)
		if err != nil {
			return nil, err
		}
		return m.Status(ctx, p.Name)
	case OpDestroy:
		p, err := decode[nameParams](raw)
		if err != nil {
			return nil, err
		}
		if err := m.Destroy(ctx, p.Name); err != nil {
			return nil, err
		}
		return okResult{true}, nil
	case OpDestroyAll:
		p, err := decode[destroyAllParams](raw)
		if err != nil {
			return nil, err
		}
		return m.DestroyAll(ctx, p.Confirm)
	case OpCopyIn:
		p, err := decode[copyParams](raw)
		if err != nil {
			return nil, err
		}
		if err := m.CopyIn(ctx, p.Name, p.HostPath, p.ContainerPath); err != nil {
			return nil, err
		}
		return okResult{true}, nil
	case OpCopyOut:
		p, err := decode[copyParams](raw)
		if err != nil {
			return nil, err
		}
		if err := m.CopyOut(ctx, p.Name, p.ContainerPath, p.HostPath); err != nil {
			return nil, err
		}
		return okResult{true}, nil
	case OpSnapshot:
		p, err := decode[snapshotParams](raw)
		if err != nil {
			return nil, err
		}
		return m.Snapshot(ctx, p.Name, p.Tag)
	case OpRestore:
		p, err := decode[restoreParams](raw)
		if err != nil {
			return nil, err
		}
		return m.Restore(ctx, p.Image, p.Name)
	case OpCreateNetwork:
		p, err := decode[networkParams](raw)
		if err != nil {
			return nil, err
		}
		if err := m.CreateNetwork(ctx, p.Name); err != nil {
			return nil, err
		}
		return okResult{true}, nil
	case OpDestroyNetwork:
		p, err := decode[networkParams](raw)
		if err != nil {
			return nil, err
		}
		if err := m.DestroyNetwork(ctx, p.Name); err != nil {
			return nil, err
		}
		return okResult{true}, nil
	case OpCacheClear:
		p, err := decode[cacheClearParams](raw)
		if err != nil {
			return nil, err
		}
		return m.CacheClear(ctx, p.Purpose)
	case OpWaitHealthy:
		p, err := decode[waitHealthyParams](raw)
		if err != nil {
			return nil, err
		}
		if err := m.WaitHealthy(ctx, p.Name, time.Duration(p.TimeoutSeconds)*time.Second); err != nil {
			return nil, err
		}
		return okResult{true}, nil
	}
	return nil, opErrorf(CodeInvalidConfig, "see the operation list", "unknown operation %q", op)
}
