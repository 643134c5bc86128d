// Package lua runs hook callbacks written in Lua.
//
// Scripts define their callbacks as functions in the global hooks table, and
// keep whatever they need between runs in the global state table:
//
//	function hooks.damageTaken(ev)
//	  state.hits = (state.hits or 0) + 1
//	  ev.damage = math.floor(ev.damage / 2)
//	  return true
//	end
package lua

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/zond/scriptai"
	"github.com/zond/scriptai/engine"
	"github.com/zond/scriptai/structs"

	golua "github.com/Shopify/go-lua"
	goccy "github.com/goccy/go-json"
)

const (
	hooksName = "hooks"
	stateName = "state"
	// Instructions between deadline checks.
	hookInterval = 1000
)

type runContext struct {
	state    *golua.State
	inv      *engine.Invocation
	ctx      context.Context
	deadline time.Time
	timedOut bool
}

func (rc *runContext) checkDeadline(state *golua.State, _ golua.Debug) {
	if time.Now().After(rc.deadline) || rc.ctx.Err() != nil {
		rc.timedOut = true
		golua.Errorf(state, "execution terminated")
	}
}

func (rc *runContext) log(state *golua.State) int {
	parts := []string{}
	for i := 1; i <= state.Top(); i++ {
		switch state.TypeOf(i) {
		case golua.TypeTable:
			b, err := goccy.Marshal(luaToGo(state, i))
			if err != nil {
				parts = append(parts, fmt.Sprint(err))
			} else {
				parts = append(parts, string(b))
			}
		default:
			s, ok := state.ToString(i)
			if !ok {
				s = golua.TypeNameOf(state, i)
			}
			parts = append(parts, s)
		}
	}
	if rc.inv.Host != nil && rc.inv.Host.Console != nil {
		fmt.Fprintln(rc.inv.Host.Console, strings.Join(parts, " "))
	}
	return 0
}

func (rc *runContext) peekState(state *golua.State) int {
	id := golua.CheckString(state, 1)
	if rc.inv.Host == nil || rc.inv.Host.PeekState == nil {
		state.PushNil()
		return 1
	}
	js, found := rc.inv.Host.PeekState(structs.ActorID(id))
	if !found {
		state.PushNil()
		return 1
	}
	var val any
	if err := goccy.Unmarshal([]byte(js), &val); err != nil {
		golua.Errorf(state, "trying to parse state of %q: %v", id, err)
		return 0
	}
	pushGo(state, val)
	return 1
}

func (rc *runContext) prepare() error {
	golua.OpenLibraries(rc.state)
	rc.state.Register("log", rc.log)
	rc.state.Register("peekState", rc.peekState)

	rc.state.NewTable()
	rc.state.SetGlobal(hooksName)

	var state any = map[string]any{}
	if rc.inv.State != "" {
		if err := goccy.Unmarshal([]byte(rc.inv.State), &state); err != nil {
			return errors.Wrapf(err, "parsing state %q", rc.inv.State)
		}
	}
	pushGo(rc.state, state)
	rc.state.SetGlobal(stateName)
	return nil
}

// call runs the function on top of the stack with its arguments, and maps a
// terminated run to engine.ErrTimeout.
func (rc *runContext) call(argCount, resultCount int) error {
	if err := rc.state.ProtectedCall(argCount, resultCount, 0); err != nil {
		if rc.timedOut {
			return errors.WithStack(engine.ErrTimeout)
		}
		return errors.WithStack(err)
	}
	return nil
}

type Backend struct{}

func (Backend) Call(ctx context.Context, inv *engine.Invocation) (*engine.Result, error) {
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = engine.DefaultTimeout
	}
	rc := &runContext{
		state:    golua.NewState(),
		inv:      inv,
		ctx:      ctx,
		deadline: time.Now().Add(timeout),
	}
	if err := rc.prepare(); err != nil {
		return nil, scriptai.WithStack(err)
	}
	golua.SetDebugHook(rc.state, rc.checkDeadline, golua.MaskCount, hookInterval)

	if err := golua.LoadBuffer(rc.state, inv.Source, "@"+inv.Origin, "t"); err != nil {
		return nil, errors.Wrapf(err, "loading %s", inv.Origin)
	}
	if err := rc.call(0, 0); err != nil {
		return nil, err
	}

	rc.state.Global(hooksName)
	if !rc.state.IsTable(-1) {
		return nil, errors.Errorf("%s replaced the %s table with a %s", inv.Origin, hooksName, golua.TypeNameOf(rc.state, -1))
	}
	rc.state.Field(-1, inv.Hook)
	if !rc.state.IsFunction(-1) {
		rc.state.SetTop(0)
		return rc.collect(false, nil)
	}
	pushGo(rc.state, inv.Args)
	// Keep a reference to the argument table for reading it back.
	rc.state.PushValue(-1)
	argsRef := rc.state.AbsIndex(-3)
	rc.state.Insert(argsRef)
	if err := rc.call(1, 1); err != nil {
		return nil, err
	}
	handled := rc.state.IsBoolean(-1) && rc.state.ToBoolean(-1)
	rc.state.Pop(1)
	args, _ := luaToGo(rc.state, argsRef).(map[string]any)
	return rc.collect(handled, args)
}

func (rc *runContext) collect(handled bool, args map[string]any) (*engine.Result, error) {
	rc.state.Global(stateName)
	state := luaToGo(rc.state, -1)
	rc.state.Pop(1)
	if state == nil {
		state = map[string]any{}
	}
	stateJSON, err := goccy.Marshal(state)
	if err != nil {
		return nil, errors.Wrap(err, "serializing state")
	}
	return &engine.Result{
		Handled: handled,
		State:   string(stateJSON),
		Args:    args,
	}, nil
}

func pushGo(state *golua.State, val any) {
	switch v := val.(type) {
	case nil:
		state.PushNil()
	case bool:
		state.PushBoolean(v)
	case string:
		state.PushString(v)
	case int:
		state.PushInteger(v)
	case int64:
		state.PushInteger(int(v))
	case float64:
		if math.Mod(v, 1) == 0 && math.Abs(v) < math.MaxInt32 {
			state.PushInteger(int(v))
		} else {
			state.PushNumber(v)
		}
	case []any:
		state.CreateTable(len(v), 0)
		for i, elem := range v {
			pushGo(state, elem)
			state.RawSetInt(-2, i+1)
		}
	case map[string]any:
		state.CreateTable(0, len(v))
		for key, elem := range v {
			pushGo(state, elem)
			state.SetField(-2, key)
		}
	default:
		state.PushString(fmt.Sprint(v))
	}
}

func luaToGo(state *golua.State, index int) any {
	switch state.TypeOf(index) {
	case golua.TypeString:
		value, _ := state.ToString(index)
		return value
	case golua.TypeNumber:
		value, _ := state.ToNumber(index)
		if math.Mod(value, 1) == 0 {
			return int64(value)
		}
		return value
	case golua.TypeBoolean:
		return state.ToBoolean(index)
	case golua.TypeTable:
		return tableToGo(state, index)
	default:
		return nil
	}
}

func tableToGo(state *golua.State, index int) any {
	index = state.AbsIndex(index)
	isArray := true
	maxIndex := 0
	count := 0
	state.PushNil()
	for state.Next(index) {
		if isArray {
			if state.TypeOf(-2) != golua.TypeNumber {
				isArray = false
			} else if idx, ok := state.ToInteger(-2); ok && idx > 0 {
				count++
				if idx > maxIndex {
					maxIndex = idx
				}
			} else {
				isArray = false
			}
		}
		state.Pop(1)
	}

	if isArray && count > 0 && maxIndex == count {
		result := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			state.RawGetInt(index, i)
			result = append(result, luaToGo(state, -1))
			state.Pop(1)
		}
		return result
	}

	output := map[string]any{}
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == golua.TypeString {
			key, _ := state.ToString(-2)
			output[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return output
}
